package train

import (
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
)

// forEach calls fn for 0..n-1, behind a progress bar when show is set. It
// stops at the first error.
func forEach(n int, desc string, show bool, fn func(i int) error) error {
	if !show {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var ferr error
	err := tqdm.With(iterators.Interval(0, n), desc, func(v interface{}) (brk bool) {
		if ferr = fn(v.(int)); ferr != nil {
			return true
		}
		return false
	})
	if ferr != nil {
		return ferr
	}
	return err
}
