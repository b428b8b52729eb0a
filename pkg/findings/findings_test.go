// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package findings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupe_PreservesFirstSeenOrder(t *testing.T) {
	in := []Finding{
		{Category: CategoryStyle, File: "a.sh", RuleID: "SC2086", Message: "first"},
		{Category: CategoryCorrectness, File: "b.yml", RuleID: "trailing-spaces", Message: "second"},
		{Category: CategoryStyle, File: "a.sh", RuleID: "SC2086", Message: "first"},
		{Category: CategoryStyle, File: "a.sh", RuleID: "SC2086", Message: "third"},
	}

	out := Dedupe(in)
	assert.Len(t, out, 3)
	assert.Equal(t, "first", out[0].Message)
	assert.Equal(t, "second", out[1].Message)
	assert.Equal(t, "third", out[2].Message)
}

func TestDedupe_TruncatesMessageAt50(t *testing.T) {
	prefix := strings.Repeat("m", 50)
	in := []Finding{
		{Category: CategoryStyle, File: "a.sh", Message: prefix + "-tail-one"},
		{Category: CategoryStyle, File: "a.sh", Message: prefix + "-tail-two"},
	}

	// Same 50-char prefix: the two collapse into one.
	assert.Len(t, Dedupe(in), 1)

	in[1].Message = "short"
	assert.Len(t, Dedupe(in), 2)
}

func TestDedupeKey_DistinguishesFields(t *testing.T) {
	base := Finding{Category: CategoryStyle, File: "a.sh", RuleID: "SC2086", Message: "msg"}

	other := base
	other.File = "b.sh"
	assert.NotEqual(t, base.DedupeKey(), other.DedupeKey())

	other = base
	other.RuleID = "SC2046"
	assert.NotEqual(t, base.DedupeKey(), other.DedupeKey())

	other = base
	other.Category = CategorySecurity
	assert.NotEqual(t, base.DedupeKey(), other.DedupeKey())

	// Severity and line do not participate in the key.
	other = base
	other.Severity = SeverityCritical
	other.Line = 99
	assert.Equal(t, base.DedupeKey(), other.DedupeKey())
}

func TestShouldCreatePR(t *testing.T) {
	assert.False(t, ShouldCreatePR(nil))
	assert.False(t, ShouldCreatePR([]Finding{
		{Severity: SeverityInfo},
		{Severity: SeverityWarning},
		{Severity: SeverityQuestion},
	}))
	assert.True(t, ShouldCreatePR([]Finding{{Severity: SeverityError}}))
	assert.True(t, ShouldCreatePR([]Finding{{Severity: SeverityCritical}}))
	assert.True(t, ShouldCreatePR([]Finding{{Severity: SeverityInfo, FixAvailable: true}}))
}
