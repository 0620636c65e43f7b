package pathvalidator

import "testing"

func TestTraversalRejected(t *testing.T) {
	cases := []string{
		"../etc/passwd",
		"a/../../b",
		"./a/../a/b",
		"foo%2e%2ebar",
		"foo%2fbar",
	}
	for _, c := range cases {
		r := Validate(c, "", nil, nil)
		if r.Valid {
			t.Errorf("Validate(%q) = valid, want denied", c)
		}
	}
}

func TestNullByte(t *testing.T) {
	r := Validate("foo\x00bar", "", nil, nil)
	if r.Valid {
		t.Fatal("expected null byte path to be denied")
	}
}

func TestSensitivePathBlockedEvenWhenAllowed(t *testing.T) {
	r := Validate("~/.ssh/id_rsa", "", []string{"/"}, nil)
	if r.Valid {
		t.Fatal("expected sensitive path to be denied despite broad allow list")
	}
}

func TestBlockedBeatsAllowed(t *testing.T) {
	r := Validate("/work/proj/file.txt", "", []string{"/work/proj"}, []string{"/work/proj"})
	if r.Valid {
		t.Fatal("expected blocked path to win over allowed path")
	}
}

func TestAllowedPathAccepted(t *testing.T) {
	r := Validate("/work/proj/file.txt", "", []string{"/work/proj"}, nil)
	if !r.Valid {
		t.Fatalf("expected path within allowed list to validate, got reason %q", r.Reason)
	}
}

func TestProjectRootEnforced(t *testing.T) {
	r := Validate("/other/place/file.txt", "/work/proj", nil, nil)
	if r.Valid {
		t.Fatal("expected path outside project root to be denied")
	}
}

func TestPlainRelativePathAccepted(t *testing.T) {
	r := Validate("src/main.go", "", nil, nil)
	if !r.Valid {
		t.Fatalf("expected plain relative path to validate, got reason %q", r.Reason)
	}
}
