package dispatch

import "github.com/HerbHall/sftphook/pkg/plugin"

// OpenFile dispatches open_file. fd is required.
func (d *Dispatcher) OpenFile(id uint32, path string, access, flags uint32, attrs *plugin.Attrs, fd *int32, seq plugin.Sequence, stats *Stats) error {
	if fd == nil {
		return ErrInvalidArgument
	}
	return d.fanout(plugin.OpOpenFile, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.OpenFile(id, path, access, flags, attrs, fd)
	})
}

// OpenDir dispatches open_dir.
func (d *Dispatcher) OpenDir(id uint32, path string, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpOpenDir, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.OpenDir(id, path)
	})
}

// Close dispatches close with the handle and the descriptor it refers to.
func (d *Dispatcher) Close(id uint32, handle string, fd int32, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpClose, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Close(id, handle, fd)
	})
}

// Read dispatches read. data and dlen are required; callbacks may fill data
// and set dlen to the number of bytes produced.
func (d *Dispatcher) Read(id uint32, handle string, offset uint64, length uint32, data []byte, dlen *int32, seq plugin.Sequence, stats *Stats) error {
	if data == nil || dlen == nil {
		return ErrInvalidArgument
	}
	return d.fanout(plugin.OpRead, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Read(id, handle, offset, length, data, dlen)
	})
}

// ReadDir dispatches read_dir.
func (d *Dispatcher) ReadDir(id uint32, handle string, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpReadDir, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.ReadDir(id, handle)
	})
}

// Write dispatches write.
func (d *Dispatcher) Write(id uint32, handle string, offset uint64, data []byte, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpWrite, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Write(id, handle, offset, data)
	})
}

// Remove dispatches remove.
func (d *Dispatcher) Remove(id uint32, path string, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpRemove, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Remove(id, path)
	})
}

// Rename dispatches rename.
func (d *Dispatcher) Rename(id uint32, oldpath, newpath string, flags uint32, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpRename, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Rename(id, oldpath, newpath, flags)
	})
}

// Mkdir dispatches mkdir.
func (d *Dispatcher) Mkdir(id uint32, path string, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpMkdir, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Mkdir(id, path)
	})
}

// Rmdir dispatches rmdir.
func (d *Dispatcher) Rmdir(id uint32, path string, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpRmdir, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Rmdir(id, path)
	})
}

// Stat dispatches stat.
func (d *Dispatcher) Stat(id uint32, path string, flags uint32, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpStat, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Stat(id, path, flags)
	})
}

// Lstat dispatches lstat.
func (d *Dispatcher) Lstat(id uint32, path string, flags uint32, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpLstat, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Lstat(id, path, flags)
	})
}

// Fstat dispatches fstat on a handle.
func (d *Dispatcher) Fstat(id uint32, handle string, flags uint32, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpFstat, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Fstat(id, handle, flags)
	})
}

// Setstat dispatches setstat.
func (d *Dispatcher) Setstat(id uint32, path string, attrs *plugin.Attrs, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpSetstat, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Setstat(id, path, attrs)
	})
}

// Fsetstat dispatches fsetstat on a handle.
func (d *Dispatcher) Fsetstat(id uint32, handle string, attrs *plugin.Attrs, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpFsetstat, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Fsetstat(id, handle, attrs)
	})
}

// ReadLink dispatches read_link.
func (d *Dispatcher) ReadLink(id uint32, path string, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpReadLink, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.ReadLink(id, path)
	})
}

// Link dispatches link; symlink selects a symbolic link.
func (d *Dispatcher) Link(id uint32, newlink, curlink string, symlink bool, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpLink, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Link(id, newlink, curlink, symlink)
	})
}

// Lock dispatches lock over the byte range at offset.
func (d *Dispatcher) Lock(id uint32, handle string, offset, length uint64, mask uint32, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpLock, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Lock(id, handle, offset, length, mask)
	})
}

// Unlock dispatches unlock.
func (d *Dispatcher) Unlock(id uint32, handle string, offset, length uint64, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpUnlock, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Unlock(id, handle, offset, length)
	})
}

// Realpath dispatches realpath.
func (d *Dispatcher) Realpath(id uint32, origpath string, control uint8, path string, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpRealpath, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Realpath(id, origpath, control, path)
	})
}

// Response notifications.

// Status notifies plugins of a status response.
func (d *Dispatcher) Status(id, code uint32, msg, lang string, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpStatus, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Status(id, code, msg, lang)
	})
}

// Handle notifies plugins of a handle response.
func (d *Dispatcher) Handle(id uint32, handle string, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpHandle, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Handle(id, handle)
	})
}

// Data notifies plugins of a data response.
func (d *Dispatcher) Data(id uint32, data []byte, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpData, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Data(id, data)
	})
}

// Name notifies plugins of a name response carrying count entries.
func (d *Dispatcher) Name(id, count uint32, name string, eof bool, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpName, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Name(id, count, name, eof)
	})
}

// Attrs notifies plugins of an attrs response.
func (d *Dispatcher) Attrs(id, flags, perm uint32, seq plugin.Sequence, stats *Stats) error {
	return d.fanout(plugin.OpAttrs, seq, stats, func(cb *plugin.Callbacks) plugin.Result {
		return cb.Attrs(id, flags, perm)
	})
}
