package fetch

import (
	"net/url"
	"strings"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// cdnHeaders maps remote host suffixes to the Referer/Origin pair their CDN
// expects. Several platform CDNs answer 403 to requests without them.
var cdnHeaders = []struct {
	suffix  string
	referer string
	origin  string
}{
	{".tiktokcdn.com", "https://www.tiktok.com/", "https://www.tiktok.com"},
	{".tiktokcdn-us.com", "https://www.tiktok.com/", "https://www.tiktok.com"},
	{".cdninstagram.com", "https://www.instagram.com/", "https://www.instagram.com"},
	{".fbcdn.net", "https://www.facebook.com/", "https://www.facebook.com"},
	{".twimg.com", "https://twitter.com/", "https://twitter.com"},
	{".vimeocdn.com", "https://vimeo.com/", "https://vimeo.com"},
	{".googlevideo.com", "https://www.youtube.com/", "https://www.youtube.com"},
}

// SpoofedHeaders returns the request headers a CDN expects for the given
// remote URL. The User-Agent is always set.
func SpoofedHeaders(remoteURL string) map[string]string {
	headers := map[string]string{
		"User-Agent": defaultUserAgent,
		"Accept":     "*/*",
	}

	u, err := url.Parse(remoteURL)
	if err != nil {
		return headers
	}

	host := strings.ToLower(u.Hostname())
	for _, c := range cdnHeaders {
		if strings.HasSuffix(host, c.suffix) {
			headers["Referer"] = c.referer
			headers["Origin"] = c.origin
			break
		}
	}
	return headers
}
