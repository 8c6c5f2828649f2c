package miner

import "testing"

func TestVocabulary_Override(t *testing.T) {
	v := DefaultVocabulary()
	if err := v.Override(map[string]string{"url": "ex:location", "filesystem_graph": "ex:Files"}); err != nil {
		t.Fatalf("Override() error = %v", err)
	}
	if v.URL != "ex:location" || v.FilesystemGraph != "ex:Files" {
		t.Errorf("Override() gave URL=%q graph=%q", v.URL, v.FilesystemGraph)
	}
	if v.FileName != "nfo:fileName" {
		t.Errorf("untouched name changed: %q", v.FileName)
	}

	for _, bad := range []map[string]string{{"colour": "ex:c"}, {"url": ""}} {
		v := DefaultVocabulary()
		if err := v.Override(bad); err == nil {
			t.Errorf("Override(%v) expected error", bad)
		}
	}
}
