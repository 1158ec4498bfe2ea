package sorter

import "fmt"

// SpillIOError reports a failure to write or read back a temporary run.
type SpillIOError struct {
	Path string
	Err  error
}

func (e *SpillIOError) Error() string {
	return fmt.Sprintf("sorter: spill file %s: %v", e.Path, e.Err)
}

// WriteIOError reports a failure to write the sorted output.
type WriteIOError struct {
	Path string
	Err  error
}

func (e *WriteIOError) Error() string {
	return fmt.Sprintf("sorter: write %s: %v", e.Path, e.Err)
}
