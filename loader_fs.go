package dyc

import "os"

// defaultReadFile backs FSLoader; kept in its own file so the
// import of "os" is visibly scoped to the one collaborator that needs it.
func defaultReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
