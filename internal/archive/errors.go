package archive

import "fmt"

// UnsafePathError reports an archive member whose name or link target
// would land outside the extraction root. Extraction stops at the
// offending member; anything already written stays on disk.
type UnsafePathError struct {
	Member string
	Link   string
}

func (e *UnsafePathError) Error() string {
	if e.Link != "" {
		return fmt.Sprintf("unsafe archive member %q: link target %q escapes the extraction root", e.Member, e.Link)
	}
	return fmt.Sprintf("unsafe archive member %q: path escapes the extraction root", e.Member)
}
