// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package cli

import "errors"

var (
	// Configuration errors

	// ErrInvalidPort is returned when the port is out of range.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")

	// ErrInvalidRateLimit is returned when the rate limit is not positive.
	ErrInvalidRateLimit = errors.New("rate-limit must be a positive request count")

	// ErrInvalidRateLimitWindow is returned when the window is not positive.
	ErrInvalidRateLimitWindow = errors.New("rate-limit-window must be a positive duration")

	// ErrInvalidMode is returned when an unknown job mode is requested.
	ErrInvalidMode = errors.New("unsupported job mode")

	// ErrInvalidRepo is returned when a repo is not of the form org/name.
	ErrInvalidRepo = errors.New("repo must be of the form org/name")
)
