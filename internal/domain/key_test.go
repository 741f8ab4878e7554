package domain

import "testing"

func intPtr(v int) *int { return &v }

func TestCanonicalKeyIsDeterministic(t *testing.T) {
	a := TransformRequest{Source: "https://example.com/a.jpg", Width: intPtr(200)}
	b := TransformRequest{Source: "https://example.com/a.jpg", Width: intPtr(200)}
	if a.CanonicalKey() != b.CanonicalKey() {
		t.Fatal("expected identical requests to share a key")
	}

	empty := TransformRequest{Source: "https://example.com/a.jpg"}
	if empty.CanonicalKey() != (TransformRequest{Source: "https://example.com/a.jpg"}).CanonicalKey() {
		t.Fatal("expected requests with all fields absent to share a key")
	}
}

func TestCanonicalKeyDiscriminatesEachField(t *testing.T) {
	base := TransformRequest{
		Source:       "https://example.com/a.jpg",
		Width:        intPtr(200),
		Height:       intPtr(100),
		OutputFormat: "png",
		Blur:         intPtr(10),
	}
	variants := map[string]TransformRequest{
		"source":      {Source: "https://example.com/b.jpg", Width: intPtr(200), Height: intPtr(100), OutputFormat: "png", Blur: intPtr(10)},
		"width":       {Source: base.Source, Width: intPtr(201), Height: intPtr(100), OutputFormat: "png", Blur: intPtr(10)},
		"width nil":   {Source: base.Source, Height: intPtr(100), OutputFormat: "png", Blur: intPtr(10)},
		"height":      {Source: base.Source, Width: intPtr(200), Height: intPtr(101), OutputFormat: "png", Blur: intPtr(10)},
		"height nil":  {Source: base.Source, Width: intPtr(200), OutputFormat: "png", Blur: intPtr(10)},
		"format":      {Source: base.Source, Width: intPtr(200), Height: intPtr(100), OutputFormat: "jpg", Blur: intPtr(10)},
		"format none": {Source: base.Source, Width: intPtr(200), Height: intPtr(100), Blur: intPtr(10)},
		"blur":        {Source: base.Source, Width: intPtr(200), Height: intPtr(100), OutputFormat: "png", Blur: intPtr(20)},
		"blur zero":   {Source: base.Source, Width: intPtr(200), Height: intPtr(100), OutputFormat: "png", Blur: intPtr(0)},
		"blur nil":    {Source: base.Source, Width: intPtr(200), Height: intPtr(100), OutputFormat: "png"},
	}

	want := base.CanonicalKey()
	for name, v := range variants {
		if v.CanonicalKey() == want {
			t.Fatalf("%s: expected key to differ from base", name)
		}
	}
}

func TestCanonicalKeySwappedDimensionsDiffer(t *testing.T) {
	a := TransformRequest{Source: "s", Width: intPtr(1)}
	b := TransformRequest{Source: "s", Height: intPtr(1)}
	if a.CanonicalKey() == b.CanonicalKey() {
		t.Fatal("expected width-only and height-only requests to differ")
	}
}
