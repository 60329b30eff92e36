package fp

import "testing"

func TestNormalizeAndFingerprint(t *testing.T) {
	if got := NormalizeFileID("  BQACAgQ  "); got != "BQACAgQ" {
		t.Fatalf("NormalizeFileID: %q", got)
	}
	if got := NormalizeFilename(" Movie.MKV "); got != "movie.mkv" {
		t.Fatalf("NormalizeFilename: %q", got)
	}

	fp1 := Fingerprint(" BQACAgQ ", "Movie.MKV")
	fp2 := Fingerprint("BQACAgQ", "movie.mkv")
	if fp1 != fp2 {
		t.Fatalf("fingerprints differ: %s vs %s", fp1, fp2)
	}
	if len(fp1) != 64 {
		t.Fatalf("unexpected fp length: %d", len(fp1))
	}
	// the separator keeps ("ab","c") and ("a","bc") apart
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Fatalf("ambiguous fingerprint")
	}
}
