package chunk

// VolumeInfo is a point-in-time view of the filesystem holding a
// disk-backed chunk store.
type VolumeInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// VolumeReporter is implemented by backends that can report capacity of
// the volume their chunks live on. Remote backends do not implement it.
type VolumeReporter interface {
	Volume() (VolumeInfo, error)
}

// Volume returns filesystem statistics for the store's chunk directory.
func (d *DiskStore) Volume() (VolumeInfo, error) {
	total, used, available, err := volumeStats(d.dir)
	if err != nil {
		return VolumeInfo{}, err
	}
	return VolumeInfo{
		TotalBytes:     total,
		UsedBytes:      used,
		AvailableBytes: available,
	}, nil
}
