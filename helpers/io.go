package helpers

import "io"

// WriteAll retries short writes until b is fully written.
// Serial and raw conn writers may accept less than len(b) per call.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
