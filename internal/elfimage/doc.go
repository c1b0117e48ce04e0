// Package elfimage reads the dynamic linking metadata of a loaded ELF image.
//
// An Image is a read-only window onto an executable as the loader mapped it:
// either the running process itself (through its auxiliary vector and
// /proc/self/mem) or a file laid out the way the loader would lay it out.
// Table projects the image's dynamic section onto the three structures needed
// to enumerate exported functions without any registration step:
//
//   - the dynamic symbol table (DT_SYMTAB),
//   - its string table (DT_STRTAB, DT_STRSZ),
//   - a hash table (DT_GNU_HASH or DT_HASH), which is the only place the number
//     of symbol entries can be recovered from.
//
// Dynamic pointers are resolved one by one because loaders disagree on whether
// they relocate the dynamic section in place. See Image.Resolve.
package elfimage
