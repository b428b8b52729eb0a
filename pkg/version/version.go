// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package version

// Version is the application version.
// This should be set at build time using:
//
//	go build -ldflags "-X github.com/heimgewebe/sichter/pkg/version.Version=1.0.0"
var Version = "0.1.0-alpha" // default version if not set at build time

// Get returns the application version string.
// The version can be overridden at build time using ldflags.
func Get() string {
	return Version
}
