package utils

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = []string{"bytes", "KB", "MB", "GB", "TB"}

// FormatFileSize converts a byte count into a human-readable string.
func FormatFileSize(size int64) string {
	if size == 0 {
		return "0 bytes"
	}

	val := float64(size)
	i := 0
	for val >= 1024 && i < len(sizeUnits)-1 {
		val /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", val, sizeUnits[i])
}

// ParseFileSize converts a ModHub size literal ("123.45 MB") into bytes.
// The upstream always renders size with a unit suffix.
func ParseFileSize(literal string) (int64, error) {
	fields := strings.Fields(strings.TrimSpace(literal))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty size literal")
	}

	val, err := strconv.ParseFloat(strings.ReplaceAll(fields[0], ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric size %q: %w", literal, err)
	}

	unit := "bytes"
	if len(fields) > 1 {
		unit = fields[1]
	}

	mult := float64(1)
	matched := false
	for i, u := range sizeUnits {
		if strings.EqualFold(u, unit) || strings.EqualFold(u, unit+"s") {
			for range i {
				mult *= 1024
			}
			matched = true
			break
		}
	}
	if !matched {
		return 0, fmt.Errorf("unknown size unit %q", unit)
	}

	return int64(val * mult), nil
}

// FilenameFromURL returns the trailing path segment of a download URL.
func FilenameFromURL(fileURL string) string {
	trimmed := strings.TrimSuffix(fileURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// CompareVersions compares two dotted version strings like "1.2.0.1".
// It returns -1, 0 or 1. Non-numeric segments compare lexically, and a
// missing segment counts as zero.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	n := max(len(as), len(bs))
	for i := 0; i < n; i++ {
		av, bv := "0", "0"
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}

		ai, aErr := strconv.Atoi(av)
		bi, bErr := strconv.Atoi(bv)
		if aErr == nil && bErr == nil {
			if ai != bi {
				if ai < bi {
					return -1
				}
				return 1
			}
			continue
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ContentTypeFor converts a file extension into its MIME content type.
// Unknown extensions fall back to octet-stream.
func ContentTypeFor(extension string) string {
	switch strings.ToLower(strings.TrimPrefix(extension, ".")) {
	case "xml":
		return "application/xml"
	case "zip":
		return "application/zip"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "dds":
		return "image/vnd-ms.dds"
	case "json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
