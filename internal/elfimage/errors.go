package elfimage

import "errors"

var (
	// ErrNotDynamic is returned for images without a PT_DYNAMIC segment, such as
	// statically linked executables.
	ErrNotDynamic = errors.New("image has no dynamic section")

	// ErrMissingSymbolTable is returned when the dynamic section has no DT_SYMTAB.
	ErrMissingSymbolTable = errors.New("dynamic section has no symbol table")

	// ErrMissingStringTable is returned when the dynamic section has no DT_STRTAB.
	ErrMissingStringTable = errors.New("dynamic section has no string table")

	// ErrMissingHashTable is returned when the dynamic section has neither
	// DT_HASH nor DT_GNU_HASH.
	ErrMissingHashTable = errors.New("dynamic section has no hash table")

	// ErrOutOfRange is returned when a structure points outside the mapped image.
	ErrOutOfRange = errors.New("address outside mapped image")
)
