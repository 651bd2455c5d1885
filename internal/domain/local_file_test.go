package domain

import "testing"

func TestLocalFileSizeOf(t *testing.T) {
	full := LocalFile{
		Region:    1,
		Name:      "Uruguay",
		Version:   260445,
		Parts:     PartsAll,
		BaseBytes: 1000,
		AuxBytes:  300,
	}
	baseOnly := LocalFile{
		Region:    2,
		Name:      "Estonia",
		Version:   260445,
		Parts:     PartsBase,
		BaseBytes: 500,
	}

	tests := []struct {
		name  string
		file  LocalFile
		parts Parts
		want  int64
	}{
		{"all of full", full, PartsAll, 1300},
		{"base of full", full, PartsBase, 1000},
		{"aux of full", full, PartsAuxiliary, 300},
		{"none of full", full, PartsNone, 0},
		{"all of base-only counts present parts", baseOnly, PartsAll, 500},
		{"aux of base-only absent", baseOnly, PartsAuxiliary, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.file.SizeOf(tt.parts); got != tt.want {
				t.Errorf("SizeOf(%v) = %d, want %d", tt.parts, got, tt.want)
			}
		})
	}

	if got := full.TotalSize(); got != 1300 {
		t.Errorf("TotalSize() = %d, want 1300", got)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusNotDownloaded, "not_downloaded"},
		{StatusInQueue, "in_queue"},
		{StatusDownloading, "downloading"},
		{StatusOnDisk, "on_disk"},
		{StatusOnDiskOutOfDate, "on_disk_out_of_date"},
		{StatusDownloadFailed, "download_failed"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestRegionIDIsValid(t *testing.T) {
	if InvalidRegion.IsValid() {
		t.Error("InvalidRegion.IsValid() = true, want false")
	}
	if !RegionID(1).IsValid() {
		t.Error("RegionID(1).IsValid() = false, want true")
	}
}
