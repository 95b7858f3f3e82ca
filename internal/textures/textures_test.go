package textures

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestMemoryStore_PutSkin(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()

	key, err := store.Put(ctx, KindSkin, uuid.New(), pngBytes(t, 64, 64))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(key, "textures/skin/") || !strings.HasSuffix(key, ".png") {
		t.Errorf("unexpected key %s", key)
	}
	if _, ok := store.Object(key); !ok {
		t.Error("object not stored")
	}
	if !strings.HasSuffix(store.URL(key), key) {
		t.Errorf("URL does not address the key: %s", store.URL(key))
	}
}

func TestPut_ContentAddressed(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()

	a, err := store.Put(ctx, KindSkin, uuid.New(), pngBytes(t, 64, 64))
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.Put(ctx, KindSkin, uuid.New(), pngBytes(t, 64, 64))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("identical payloads got different keys: %s vs %s", a, b)
	}
}

func TestPut_RejectsBadDimensions(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()

	cases := []struct {
		kind Kind
		w, h int
	}{
		{KindSkin, 63, 64},
		{KindSkin, 64, 65},
		{KindCape, 64, 64},
		{KindCape, 32, 32},
	}
	for _, tc := range cases {
		if _, err := store.Put(ctx, tc.kind, uuid.New(), pngBytes(t, tc.w, tc.h)); err == nil {
			t.Errorf("%s %dx%d accepted", tc.kind, tc.w, tc.h)
		}
	}

	// Legacy 64x32 skins are still valid.
	if _, err := store.Put(ctx, KindSkin, uuid.New(), pngBytes(t, 64, 32)); err != nil {
		t.Errorf("legacy skin rejected: %v", err)
	}
}

func TestPut_RejectsNonImages(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()

	for _, data := range [][]byte{nil, []byte("not a png"), make([]byte, maxTextureBytes+1)} {
		if _, err := store.Put(ctx, KindSkin, uuid.New(), data); err == nil {
			t.Error("invalid payload accepted")
		}
	}
}

func TestDelete_RemovesObject(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()

	key, err := store.Put(ctx, KindCape, uuid.New(), pngBytes(t, 64, 32))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Object(key); ok {
		t.Error("object survived delete")
	}
}
