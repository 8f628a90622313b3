// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package brand

import "testing"

func TestGet(t *testing.T) {
	b := Get()
	if b.Name == "" {
		t.Error("Brand name should not be empty")
	}
	if b.LowerName == "" {
		t.Error("Brand lowerName should not be empty")
	}
	if Version == "" {
		t.Error("global Version should be initialized to dev default")
	}
}

func TestUserAgent(t *testing.T) {
	if ua := UserAgent("1.0.0"); ua != "Aegis/1.0.0" {
		t.Errorf("UserAgent(1.0.0) = %q, want Aegis/1.0.0", ua)
	}
	if ua := UserAgent(""); ua == "" {
		t.Error("UserAgent default should not be empty")
	}
}
