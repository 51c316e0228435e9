package settings

import (
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/radmon/log2"
)

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

// Store binds Settings to power-loss-safe storage.
type Store struct {
	sync.Mutex
	log     *log2.Log
	storage storage
}

func (st *Store) Init(root string, log *log2.Log) error {
	st.log = log
	if root == "" {
		return errors.Errorf("settings store root=empty")
	}
	st.storage = extremofile.New(extremofile.Config{
		Dir:      filepath.Join(root, "settings"),
		DirPerm:  0755,
		FilePerm: 0644,
	})
	return nil
}

// Load fills target from storage. Absent or unreadable storage is a
// first-boot condition, target keeps defaults and Load returns nil.
func (st *Store) Load(target *Settings) error {
	if st.storage == nil {
		panic("code error settings store must call .Init() first")
	}
	st.Lock()
	defer st.Unlock()
	*target = Default()
	tbegin := time.Now()
	b, err := st.storage.Read()
	st.log.Debugf("settings storage.read duration=%v", time.Since(tbegin))
	if b == nil {
		if err != nil {
			st.log.Infof("settings storage empty err=%v using defaults", err)
		}
		return nil
	}
	if err != nil {
		st.log.Errorf("settings ignore non-critical storage err=%v", err)
	}
	return errors.Annotate(target.UnmarshalBinary(b), "settings load")
}

func (st *Store) Save(current *Settings) error {
	if st.storage == nil {
		panic("code error settings store must call .Init() first")
	}
	st.Lock()
	defer st.Unlock()
	b, err := current.MarshalBinary()
	if err == nil {
		tbegin := time.Now()
		_, err = st.storage.Write(b)
		st.log.Debugf("settings storage.write duration=%v", time.Since(tbegin))
	}
	return errors.Annotate(err, "settings save")
}
