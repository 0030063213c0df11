package dyc

// File is one source text registered with a compilation. It is shared by
// the lexer, the preprocessor (for #include / #line bookkeeping) and the
// diagnostics formatter.
type File struct {
	Name        string // path as given to the loader
	DisplayName string // name to report in diagnostics; changed by #line
	Contents    string
	Index       int // dense 0-based index into the process-wide file table
	LineDelta   int // adjustment applied by #line
	IncludeDir  string // directory this file was resolved from, for #include_next
}

// FileTable is the process-wide (per-Context, in dyc) registry of Files,
// used for error reporting and for producing stable indices that debug
// info and relocations can reference.
type FileTable struct {
	files []*File
}

func NewFileTable() *FileTable {
	return &FileTable{}
}

// NewFile registers contents under name and returns the new File. The
// returned File's Index is stable for the lifetime of the FileTable.
func (t *FileTable) NewFile(name, contents string) *File {
	f := &File{
		Name:        name,
		DisplayName: name,
		Contents:    contents,
		Index:       len(t.files),
	}
	t.files = append(t.files, f)
	return f
}

func (t *FileTable) All() []*File { return t.files }
