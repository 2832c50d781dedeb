// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrSourceNotAllowed is returned for source paths outside the input root.
var ErrSourceNotAllowed = errors.New("source path is outside the input root")

// ResolveSource maps a submitted path to a cleaned absolute path inside root.
// Relative paths are taken from root. Symlinks are followed when the target
// exists, so a link cannot point out of the root.
func ResolveSource(root string, source string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%w: no input root is configured", ErrSourceNotAllowed)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	candidate := source
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(rootAbs, candidate)
	}
	candidate = filepath.Clean(candidate)

	base := rootAbs
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		candidate = resolved
		if resolvedRoot, err := filepath.EvalSymlinks(rootAbs); err == nil {
			base = resolvedRoot
		}
	}

	rel, err := filepath.Rel(base, candidate)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrSourceNotAllowed, source)
	}
	return candidate, nil
}
