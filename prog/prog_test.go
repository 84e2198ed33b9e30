package prog

import (
	"testing"

	"github.com/oakleafbasic/oakleaf"
)

func sample() *Program {
	p := New("sample")
	p.Tokens = []oakleaf.Token{
		{Code: TPrint, Line: 10},
		{Code: TInteger, Ival: 1, Line: 10},
		{Code: TEOL, Line: 10},
		{Code: TPrint, Line: 20},
		{Code: TInteger, Ival: 2, Line: 20},
		{Code: TEOL, Line: 20},
		{Code: TEOP, Line: 21},
	}
	return p
}

func TestLineStart(t *testing.T) {
	p := sample()
	addr, ok := p.LineStart(20)
	if !ok || addr != 3 {
		t.Errorf("LineStart(20) = %d/%v, want 3", addr, ok)
	}
	if _, ok := p.LineStart(15); ok {
		t.Error("LineStart must not find a nonexistent line")
	}
}

func TestAtOutsideProgramPanics(t *testing.T) {
	p := sample()
	defer func() {
		if r := recover(); r == nil {
			t.Error("address outside the program must be an internal error")
		}
	}()
	p.At(oakleaf.Addr(p.Len()))
}

func TestFingerprintTracksEdits(t *testing.T) {
	p := sample()
	fp1 := p.Fingerprint()
	if fp2 := p.Fingerprint(); fp2 != fp1 {
		t.Error("fingerprint of an unedited program changed")
	}
	p.Tokens[1].Ival = 99
	if fp3 := p.Fingerprint(); fp3 == fp1 {
		t.Error("edit did not change the fingerprint")
	}
}

func TestFingerprintCoversLibraries(t *testing.T) {
	p := sample()
	fp1 := p.Fingerprint()
	lib := New("lib")
	lib.Tokens = []oakleaf.Token{{Code: TEOP}}
	p.Attach(lib)
	fp2 := p.Fingerprint()
	if fp2 == fp1 {
		t.Error("attaching a library did not change the fingerprint")
	}
	lib.Tokens[0].Line = 7
	if fp3 := p.Fingerprint(); fp3 == fp2 {
		t.Error("library edit did not change the fingerprint")
	}
}
