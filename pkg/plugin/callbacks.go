package plugin

// Op enumerates the well-known operations a plugin may intercept. Request
// operations come first, response notifications last.
type Op int

const (
	OpOpenFile Op = iota
	OpOpenDir
	OpClose
	OpRead
	OpReadDir
	OpWrite
	OpRemove
	OpRename
	OpMkdir
	OpRmdir
	OpStat
	OpLstat
	OpFstat
	OpSetstat
	OpFsetstat
	OpReadLink
	OpLink
	OpLock
	OpUnlock
	OpRealpath

	OpStatus
	OpHandle
	OpData
	OpName
	OpAttrs

	// OpCount is the number of well-known operations.
	OpCount
)

// FirstResponseOp is the first response-side operation.
const FirstResponseOp = OpStatus

type opInfo struct {
	name     string
	symbol   string
	goSymbol string
}

var opTable = [OpCount]opInfo{
	OpOpenFile: {"open_file", "sftp_cf_open_file", "OnOpenFile"},
	OpOpenDir:  {"open_dir", "sftp_cf_open_dir", "OnOpenDir"},
	OpClose:    {"close", "sftp_cf_close", "OnClose"},
	OpRead:     {"read", "sftp_cf_read", "OnRead"},
	OpReadDir:  {"read_dir", "sftp_cf_read_dir", "OnReadDir"},
	OpWrite:    {"write", "sftp_cf_write", "OnWrite"},
	OpRemove:   {"remove", "sftp_cf_remove", "OnRemove"},
	OpRename:   {"rename", "sftp_cf_rename", "OnRename"},
	OpMkdir:    {"mkdir", "sftp_cf_mkdir", "OnMkdir"},
	OpRmdir:    {"rmdir", "sftp_cf_rmdir", "OnRmdir"},
	OpStat:     {"stat", "sftp_cf_stat", "OnStat"},
	OpLstat:    {"lstat", "sftp_cf_lstat", "OnLstat"},
	OpFstat:    {"fstat", "sftp_cf_fstat", "OnFstat"},
	OpSetstat:  {"setstat", "sftp_cf_setstat", "OnSetstat"},
	OpFsetstat: {"fsetstat", "sftp_cf_fsetstat", "OnFsetstat"},
	OpReadLink: {"read_link", "sftp_cf_read_link", "OnReadLink"},
	OpLink:     {"link", "sftp_cf_link", "OnLink"},
	OpLock:     {"lock", "sftp_cf_lock", "OnLock"},
	OpUnlock:   {"unlock", "sftp_cf_unlock", "OnUnlock"},
	OpRealpath: {"realpath", "sftp_cf_realpath", "OnRealpath"},
	OpStatus:   {"status", "sftp_cf_status", "OnStatus"},
	OpHandle:   {"handle", "sftp_cf_handle", "OnHandle"},
	OpData:     {"data", "sftp_cf_data", "OnData"},
	OpName:     {"name", "sftp_cf_name", "OnName"},
	OpAttrs:    {"attrs", "sftp_cf_attrs", "OnAttrs"},
}

// Valid reports whether op names a well-known operation.
func (op Op) Valid() bool { return op >= 0 && op < OpCount }

// String returns the short operation name, e.g. "read".
func (op Op) String() string {
	if !op.Valid() {
		return "unknown"
	}
	return opTable[op].name
}

// Symbol returns the C symbol a native library exports for op.
func (op Op) Symbol() string {
	if !op.Valid() {
		return ""
	}
	return opTable[op].symbol
}

// GoSymbol returns the exported identifier a Go plugin uses for op.
func (op Op) GoSymbol() string {
	if !op.Valid() {
		return ""
	}
	return opTable[op].goSymbol
}

// Response reports whether op is a response-side notification.
func (op Op) Response() bool { return op >= FirstResponseOp && op < OpCount }

// Request callbacks. The C signature of each is noted alongside; C strings
// are NUL terminated, byte buffers are passed as pointer plus length.
type (
	// int sftp_cf_open_file(uint32_t id, const char *path, uint32_t access,
	//     uint32_t flags, struct sftp_cbk_attrs *attrs, int32_t *fd)
	OpenFileFunc = func(id uint32, path string, access, flags uint32, attrs *Attrs, fd *int32) Result
	// int sftp_cf_open_dir(uint32_t id, const char *path)
	OpenDirFunc = func(id uint32, path string) Result
	// int sftp_cf_close(uint32_t id, const char *handle, int32_t fd)
	CloseFunc = func(id uint32, handle string, fd int32) Result
	// int sftp_cf_read(uint32_t id, const char *handle, uint64_t off,
	//     uint32_t len, uint8_t *data, int32_t *dlen)
	ReadFunc = func(id uint32, handle string, offset uint64, length uint32, data []byte, dlen *int32) Result
	// int sftp_cf_read_dir(uint32_t id, const char *handle)
	ReadDirFunc = func(id uint32, handle string) Result
	// int sftp_cf_write(uint32_t id, const char *handle, uint64_t off,
	//     const uint8_t *data, uint32_t len)
	WriteFunc = func(id uint32, handle string, offset uint64, data []byte) Result
	// int sftp_cf_remove(uint32_t id, const char *path)
	RemoveFunc = func(id uint32, path string) Result
	// int sftp_cf_rename(uint32_t id, const char *oldpath,
	//     const char *newpath, uint32_t flags)
	RenameFunc = func(id uint32, oldpath, newpath string, flags uint32) Result
	// int sftp_cf_mkdir(uint32_t id, const char *path)
	MkdirFunc = func(id uint32, path string) Result
	// int sftp_cf_rmdir(uint32_t id, const char *path)
	RmdirFunc = func(id uint32, path string) Result
	// int sftp_cf_stat(uint32_t id, const char *path, uint32_t flags)
	StatFunc = func(id uint32, path string, flags uint32) Result
	// int sftp_cf_lstat(uint32_t id, const char *path, uint32_t flags)
	LstatFunc = func(id uint32, path string, flags uint32) Result
	// int sftp_cf_fstat(uint32_t id, const char *handle, uint32_t flags)
	FstatFunc = func(id uint32, handle string, flags uint32) Result
	// int sftp_cf_setstat(uint32_t id, const char *path, struct sftp_cbk_attrs *attrs)
	SetstatFunc = func(id uint32, path string, attrs *Attrs) Result
	// int sftp_cf_fsetstat(uint32_t id, const char *handle, struct sftp_cbk_attrs *attrs)
	FsetstatFunc = func(id uint32, handle string, attrs *Attrs) Result
	// int sftp_cf_read_link(uint32_t id, const char *path)
	ReadLinkFunc = func(id uint32, path string) Result
	// int sftp_cf_link(uint32_t id, const char *newlink, const char *curlink, int32_t symlink)
	LinkFunc = func(id uint32, newlink, curlink string, symlink bool) Result
	// int sftp_cf_lock(uint32_t id, const char *handle, uint64_t off,
	//     uint64_t len, uint32_t mask)
	LockFunc = func(id uint32, handle string, offset, length uint64, mask uint32) Result
	// int sftp_cf_unlock(uint32_t id, const char *handle, uint64_t off, uint64_t len)
	UnlockFunc = func(id uint32, handle string, offset, length uint64) Result
	// int sftp_cf_realpath(uint32_t id, const char *origpath, uint8_t control,
	//     const char *path)
	RealpathFunc = func(id uint32, origpath string, control uint8, path string) Result
)

// Response callbacks.
type (
	// int sftp_cf_status(uint32_t id, uint32_t code, const char *msg, const char *lang)
	StatusFunc = func(id uint32, code uint32, msg, lang string) Result
	// int sftp_cf_handle(uint32_t id, const char *handle)
	HandleFunc = func(id uint32, handle string) Result
	// int sftp_cf_data(uint32_t id, const uint8_t *data, uint32_t len)
	DataFunc = func(id uint32, data []byte) Result
	// int sftp_cf_name(uint32_t id, uint32_t count, const char *name, int32_t eof)
	NameFunc = func(id uint32, count uint32, name string, eof bool) Result
	// int sftp_cf_attrs(uint32_t id, uint32_t flags, uint32_t perm)
	AttrsFunc = func(id uint32, flags uint32, perm uint32) Result
)

// Callbacks is the per-plugin callback table. A nil field means the library
// does not export that operation.
type Callbacks struct {
	OpenFile OpenFileFunc
	OpenDir  OpenDirFunc
	Close    CloseFunc
	Read     ReadFunc
	ReadDir  ReadDirFunc
	Write    WriteFunc
	Remove   RemoveFunc
	Rename   RenameFunc
	Mkdir    MkdirFunc
	Rmdir    RmdirFunc
	Stat     StatFunc
	Lstat    LstatFunc
	Fstat    FstatFunc
	Setstat  SetstatFunc
	Fsetstat FsetstatFunc
	ReadLink ReadLinkFunc
	Link     LinkFunc
	Lock     LockFunc
	Unlock   UnlockFunc
	Realpath RealpathFunc

	Status StatusFunc
	Handle HandleFunc
	Data   DataFunc
	Name   NameFunc
	Attrs  AttrsFunc
}

// Has reports whether the table holds a callback for op.
func (c *Callbacks) Has(op Op) bool {
	if c == nil {
		return false
	}
	switch op {
	case OpOpenFile:
		return c.OpenFile != nil
	case OpOpenDir:
		return c.OpenDir != nil
	case OpClose:
		return c.Close != nil
	case OpRead:
		return c.Read != nil
	case OpReadDir:
		return c.ReadDir != nil
	case OpWrite:
		return c.Write != nil
	case OpRemove:
		return c.Remove != nil
	case OpRename:
		return c.Rename != nil
	case OpMkdir:
		return c.Mkdir != nil
	case OpRmdir:
		return c.Rmdir != nil
	case OpStat:
		return c.Stat != nil
	case OpLstat:
		return c.Lstat != nil
	case OpFstat:
		return c.Fstat != nil
	case OpSetstat:
		return c.Setstat != nil
	case OpFsetstat:
		return c.Fsetstat != nil
	case OpReadLink:
		return c.ReadLink != nil
	case OpLink:
		return c.Link != nil
	case OpLock:
		return c.Lock != nil
	case OpUnlock:
		return c.Unlock != nil
	case OpRealpath:
		return c.Realpath != nil
	case OpStatus:
		return c.Status != nil
	case OpHandle:
		return c.Handle != nil
	case OpData:
		return c.Data != nil
	case OpName:
		return c.Name != nil
	case OpAttrs:
		return c.Attrs != nil
	}
	return false
}

// Ops returns the operations present in the table, in Op order.
func (c *Callbacks) Ops() []Op {
	var ops []Op
	for op := Op(0); op < OpCount; op++ {
		if c.Has(op) {
			ops = append(ops, op)
		}
	}
	return ops
}
