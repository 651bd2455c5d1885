package domain

// LocalFile describes one on-disk version of a region: which parts are
// present and how large they are. At most one version per region survives
// a scan; records are owned by the registry and handed out as copies.
type LocalFile struct {
	Region    RegionID
	Name      string
	Version   int64
	Parts     Parts
	BaseBytes int64
	AuxBytes  int64
	Dir       string
}

// SizeOf returns the on-disk byte count of the requested parts that are
// actually present.
func (f LocalFile) SizeOf(parts Parts) int64 {
	var n int64
	if f.Parts.Has(PartsBase) && parts.Has(PartsBase) {
		n += f.BaseBytes
	}
	if f.Parts.Has(PartsAuxiliary) && parts.Has(PartsAuxiliary) {
		n += f.AuxBytes
	}
	return n
}

// TotalSize returns the byte count of every part present on disk.
func (f LocalFile) TotalSize() int64 {
	return f.SizeOf(PartsAll)
}
