package urlcanon

import "testing"

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	c := New(nil)
	tests := []struct {
		name     string
		raw      string
		platform string
		want     string
	}{
		{
			name:     "short link folds to watch form",
			raw:      "https://youtu.be/abc123?t=30",
			platform: "youtube",
			want:     "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:     "mobile youtube host",
			raw:      "https://m.youtube.com/watch?v=abc123&feature=share",
			platform: "youtube",
			want:     "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:     "shorts path",
			raw:      "https://youtube.com/shorts/XyZ9?si=tracking",
			platform: "youtube",
			want:     "https://www.youtube.com/watch?v=xyz9",
		},
		{
			name:     "facebook mobile and fbclid",
			raw:      "http://m.facebook.com/page/posts/42/?fbclid=abc&ref=share",
			platform: "facebook",
			want:     "https://www.facebook.com/page/posts/42",
		},
		{
			name:     "twitter alias domain",
			raw:      "https://twitter.com/user/status/1?s=20&ref_src=twsrc",
			platform: "twitter",
			want:     "https://x.com/user/status/1",
		},
		{
			name:     "x platform alias",
			raw:      "https://mobile.x.com/user/status/1?s=20",
			platform: "x",
			want:     "https://x.com/user/status/1",
		},
		{
			name:     "instagram igshid",
			raw:      "https://instagram.com/p/CODE/?igshid=xyz&img_index=2",
			platform: "instagram",
			want:     "https://www.instagram.com/p/code",
		},
		{
			name:     "reddit short link",
			raw:      "https://redd.it/abc12",
			platform: "reddit",
			want:     "https://www.reddit.com/comments/abc12",
		},
		{
			name:     "reddit old host keeps utm free query",
			raw:      "https://old.reddit.com/r/chennai/?utm_name=x&sort=new",
			platform: "reddit",
			want:     "https://www.reddit.com/r/chennai?sort=new",
		},
		{
			name:     "survivors keep original order",
			raw:      "https://example.com/a?z=1&utm_source=x&a=2&m=3",
			platform: "",
			want:     "https://example.com/a?z=1&a=2&m=3",
		},
		{
			name:     "platform inferred from host",
			raw:      "https://youtu.be/abc123?si=foo",
			platform: "",
			want:     "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:     "default port fragment and slashes",
			raw:      "HTTPS://Example.COM:443//news//item/#section",
			platform: "",
			want:     "https://example.com/news/item",
		},
		{
			name:     "non default port kept",
			raw:      "http://example.com:8080/x/",
			platform: "",
			want:     "https://example.com:8080/x",
		},
		{
			name:     "schemeless host",
			raw:      "www.youtube.com/watch?v=abc123",
			platform: "youtube",
			want:     "https://www.youtube.com/watch?v=abc123",
		},
		{
			name:     "malformed input falls back",
			raw:      "  Not A URL  ",
			platform: "youtube",
			want:     "not a url",
		},
		{
			name:     "bad escape falls back",
			raw:      "http://exa mple.com/%zz",
			platform: "",
			want:     "http://exa mple.com/%zz",
		},
		{
			name:     "empty",
			raw:      "   ",
			platform: "youtube",
			want:     "",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := c.Canonicalize(tc.raw, tc.platform); got != tc.want {
				t.Fatalf("Canonicalize(%q, %q) = %q, want %q", tc.raw, tc.platform, got, tc.want)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	c := New(nil)
	inputs := []struct {
		raw      string
		platform string
	}{
		{"https://youtu.be/abc123?t=30", "youtube"},
		{"https://www.youtube.com/watch?v=abc123&list=PL1", "youtube"},
		{"https://web.facebook.com/story.php?story_fbid=1&id=2&fbclid=x", "facebook"},
		{"https://twitter.com/a/status/9?s=46", "twitter"},
		{"https://redd.it/xyz", ""},
		{"http://[::1]:80/a//b/", ""},
		{"HTTP://Example.com/Path/?B=2&a=1#frag", ""},
		{"mailto:someone@example.com", ""},
		{"%%%", ""},
		{"example.com/path?utm_medium=x", ""},
	}

	for _, in := range inputs {
		once := c.Canonicalize(in.raw, in.platform)
		twice := c.Canonicalize(once, in.platform)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q then %q", in.raw, once, twice)
		}
	}
}

func TestCanonicalizeEquivalenceClass(t *testing.T) {
	t.Parallel()

	c := New(nil)
	short := c.Canonicalize("https://youtu.be/abc123?t=30", "youtube")
	long := c.Canonicalize("https://www.youtube.com/watch?v=abc123", "youtube")
	if short != long {
		t.Fatalf("expected equal canonical forms, got %q and %q", short, long)
	}
}

func TestNewCustomTrackingParams(t *testing.T) {
	t.Parallel()

	c := New(map[string][]string{
		"common": {" Session "},
		"X":      {"s"},
	})
	got := c.Canonicalize("https://x.com/a?session=1&s=2&keep=3", "twitter")
	if got != "https://x.com/a?keep=3" {
		t.Fatalf("unexpected canonical form: %q", got)
	}

	platforms := c.Platforms()
	if len(platforms) != 2 || platforms[0] != "common" || platforms[1] != "twitter" {
		t.Fatalf("unexpected platforms: %v", platforms)
	}
}

func TestInferPlatform(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"www.youtube.com":    PlatformYouTube,
		"youtu.be":           PlatformYouTube,
		"m.facebook.com":     PlatformFacebook,
		"www.instagram.com":  PlatformInstagram,
		"mobile.twitter.com": PlatformTwitter,
		"x.com":              PlatformTwitter,
		"old.reddit.com":     PlatformReddit,
		"example.com":        "",
		"notyoutube.com":     "",
	}
	for host, want := range tests {
		if got := InferPlatform(host); got != want {
			t.Fatalf("InferPlatform(%q) = %q, want %q", host, got, want)
		}
	}
}
