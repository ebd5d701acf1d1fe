// This file is part of symcache.
//
// symcache is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// symcache is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with symcache.  If not, see <https://www.gnu.org/licenses/>.

package ir

import "strings"

// JoinPath joins base and frag the way a POSIX path is joined: if frag is
// itself absolute it replaces base entirely, mirroring how a compiler
// records an absolute file path even inside a relative compilation
// directory. An empty fragment leaves base unchanged.
func JoinPath(base, frag string) string {
	if frag == "" {
		return base
	}
	if strings.HasPrefix(frag, "/") {
		return frag
	}
	if base == "" {
		return frag
	}
	if strings.HasSuffix(base, "/") {
		return base + frag
	}
	return base + "/" + frag
}

// CleanPath normalizes a POSIX-style path, collapsing "." and ".." segments
// and duplicate slashes, without touching the filesystem.
func CleanPath(p string) string {
	if p == "" {
		return ""
	}

	absolute := strings.HasPrefix(p, "/")

	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
			} else if !absolute {
				out = append(out, part)
			}
		default:
			out = append(out, part)
		}
	}

	cleaned := strings.Join(out, "/")
	if absolute {
		return "/" + cleaned
	}
	if cleaned == "" {
		return "."
	}
	return cleaned
}
