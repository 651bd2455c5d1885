package registry

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mapstash/mapstash/internal/domain"
)

// Artifact naming under the storage root. Every data version lives in its
// own directory named by the version number:
//
//	<root>/<version>/<Name>.map             base artifact
//	<root>/<version>/<Name>.map.routing     auxiliary artifact
//	<root>/<version>/<Name>.map.idx         sidecar manifest
//
// A transfer in flight writes to the artifact path plus SuffixDownloading
// and a continuable partial transfer is flagged by SuffixResume.
const (
	ExtBase    = ".map"
	ExtAux     = ".map.routing"
	ExtSidecar = ".map.idx"

	SuffixDownloading = ".downloading"
	SuffixResume      = ".resume"
)

// VersionDir returns the directory holding all artifacts of one version.
func VersionDir(root string, version int64) string {
	return filepath.Join(root, strconv.FormatInt(version, 10))
}

// ParseVersionDir interprets a directory name as a data version.
func ParseVersionDir(name string) (int64, bool) {
	v, err := strconv.ParseInt(name, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// PartExt returns the artifact extension of a single part.
func PartExt(part domain.Parts) string {
	if part == domain.PartsAuxiliary {
		return ExtAux
	}
	return ExtBase
}

// PartPath returns the final artifact path of one part of a region.
func PartPath(root string, version int64, name string, part domain.Parts) string {
	return filepath.Join(VersionDir(root, version), name+PartExt(part))
}

// SidecarPath returns the sidecar manifest path of a region version.
func SidecarPath(root string, version int64, name string) string {
	return filepath.Join(VersionDir(root, version), name+ExtSidecar)
}

// TempPath returns the in-progress transfer path for an artifact.
func TempPath(artifact string) string {
	return artifact + SuffixDownloading
}

// ResumePath returns the resume marker path for an artifact.
func ResumePath(artifact string) string {
	return artifact + SuffixResume
}

// ParseArtifact splits an artifact file name into region name and part.
// Sidecars, in-progress files and unrelated files report ok == false.
func ParseArtifact(filename string) (name string, part domain.Parts, ok bool) {
	switch {
	case strings.HasSuffix(filename, SuffixDownloading),
		strings.HasSuffix(filename, SuffixResume),
		strings.HasSuffix(filename, ExtSidecar):
		return "", domain.PartsNone, false
	case strings.HasSuffix(filename, ExtAux):
		return strings.TrimSuffix(filename, ExtAux), domain.PartsAuxiliary, true
	case strings.HasSuffix(filename, ExtBase):
		return strings.TrimSuffix(filename, ExtBase), domain.PartsBase, true
	}
	return "", domain.PartsNone, false
}
