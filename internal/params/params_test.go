package params

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/yourusername/docforge/internal/models"
)

func TestDecodeAppliesDefaults(t *testing.T) {
	p, err := Decode(models.JobTypeWatermark, nil)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	wm, ok := p.(*Watermark)
	if !ok {
		t.Fatalf("expected *Watermark, got %T", p)
	}
	if wm.Text != "DRAFT" || wm.Size != 50 || wm.Opacity != 0.5 || wm.Position != "center" || wm.Type != "text" {
		t.Fatalf("unexpected defaults: %+v", wm)
	}

	p, err = Decode(models.JobTypeVideoResize, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	vr := p.(*VideoResize)
	if vr.Resolution != "720p" || vr.Format != "mp4" {
		t.Fatalf("unexpected video defaults: %+v", vr)
	}
}

func TestDecodeRotate(t *testing.T) {
	p, err := Decode(models.JobTypeRotate, json.RawMessage(`{"rotation":90}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got := p.(*Rotate).Rotation; got != 90 {
		t.Fatalf("expected rotation 90, got %d", got)
	}
	if p.JobType() != models.JobTypeRotate {
		t.Fatalf("unexpected job type %s", p.JobType())
	}

	if _, err := Decode(models.JobTypeRotate, json.RawMessage(`{"rotation":45}`)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for rotation 45, got %v", err)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		typ  models.JobType
		raw  string
	}{
		{"protect without password", models.JobTypeProtect, `{}`},
		{"reorder empty", models.JobTypeReorder, `{"order":[]}`},
		{"reorder duplicate", models.JobTypeReorder, `{"order":[1,1]}`},
		{"compress unknown level", models.JobTypeCompress, `{"compressionLevel":"extreme"}`},
		{"image watermark without file", models.JobTypeWatermark, `{"type":"image"}`},
		{"split ranges missing", models.JobTypeSplit, `{"splitMode":"ranges"}`},
		{"pdf to image bad dpi", models.JobTypePDFToImage, `{"dpi":5000}`},
		{"sign without text", models.JobTypeSign, `{}`},
		{"malformed json", models.JobTypeRotate, `{"rotation":`},
		{"unknown type", models.JobType("SHRED"), `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.typ, json.RawMessage(tc.raw)); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestProtectOwnerPasswordFallsBack(t *testing.T) {
	p, err := Decode(models.JobTypeProtect, json.RawMessage(`{"password":"secret"}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got := p.(*Protect).OwnerPassword; got != "secret" {
		t.Fatalf("expected owner password fallback, got %q", got)
	}
}

func TestEncodeNormalizes(t *testing.T) {
	p, err := Decode(models.JobTypePDFToImage, json.RawMessage(`{"format":"JPEG"}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	raw, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if string(raw) != `{"format":"jpg","dpi":300}` {
		t.Fatalf("unexpected encoded params: %s", raw)
	}
}
