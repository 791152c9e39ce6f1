package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ROLETERMS_TEST_MODE") == "" {
			_ = os.Setenv("ROLETERMS_TEST_MODE", "1")
		}
	})
}
