package helpers

import (
	"strings"

	"github.com/juju/errors"
)

// FoldErrors flattens non-nil errors into one, nil when there are none.
// Joined messages may contain % verbs, keep them away from format functions.
func FoldErrors(errs []error) error {
	ss := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			ss = append(ss, e.Error())
		}
	}
	if len(ss) == 0 {
		return nil
	}
	return errors.New(strings.Join(ss, "\n"))
}
