package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// YouTube resolves youtube.com/youtu.be URLs by emulating the iOS client
// (primary path) and falling back to the official Data API v3 when an API
// key is configured, adapted from testdj's scrape-then-fallback strategy.
type YouTube struct {
	httpClient *http.Client
	apiKey     string
}

// NewYouTube returns a YouTube fetcher. apiKey may be empty, in which case
// the Data API fallback is disabled and only the mobile scrape path runs.
func NewYouTube(httpClient *http.Client, apiKey string) *YouTube {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &YouTube{httpClient: httpClient, apiKey: apiKey}
}

var youtubeURLRegex = regexp.MustCompile(
	`^(?:https?://)?(?:www\.|m\.)?(?:youtube\.com/watch\?v=|youtu\.be/)([A-Za-z0-9_-]{11})(?:[?&].*)?$`)

var iso8601Regex = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?`)

// ErrAgeRestricted is returned when the video is age-gated and cannot be
// resolved without authentication.
var ErrAgeRestricted = errors.New("fetcher: age restricted")

func (y *YouTube) Recognize(rawURL string) bool {
	if hostMatches(rawURL, "youtube.com", "youtu.be") {
		return true
	}
	// youtu.be URLs may arrive without a scheme in forms hostMatches
	// can't parse; fall back to the full-URL regex used to extract the ID.
	return youtubeURLRegex.MatchString(rawURL)
}

func (y *YouTube) videoID(rawURL string) (string, bool) {
	m := youtubeURLRegex.FindStringSubmatch(strings.TrimSpace(rawURL))
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

func (y *YouTube) Fetch(ctx context.Context, rawURL string) (Metadata, error) {
	videoID, ok := y.videoID(rawURL)
	if !ok {
		return Metadata{}, fmt.Errorf("%w: cannot extract video id from %q", ErrUnsupportedHost, rawURL)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()

	title, dur, scrapeErr := y.fetchMobileScrape(timeoutCtx, videoID)
	if scrapeErr == nil && dur > 0 && title != "" {
		return Metadata{Title: title, Length: dur}, nil
	}
	if errors.Is(scrapeErr, ErrAgeRestricted) {
		return Metadata{}, scrapeErr
	}

	if y.apiKey == "" {
		return Metadata{}, fmt.Errorf("mobile scrape failed and no YouTube Data API key configured: %w", scrapeErr)
	}

	title, dur, apiErr := y.fetchDataAPI(timeoutCtx, videoID)
	if apiErr == nil && dur > 0 && title != "" {
		return Metadata{Title: title, Length: dur}, nil
	}
	if errors.Is(apiErr, ErrAgeRestricted) {
		return Metadata{}, apiErr
	}

	return Metadata{}, fmt.Errorf("mobile scrape: %w; data api fallback: %w", scrapeErr, apiErr)
}

// --- mobile client scrape ---

var (
	mobileUserAgent = "com.google.ios.youtube/20.32.4 (iPhone16,2; U; CPU iOS 18_6_0 like Mac OS X; US)"
	playerURL       = "https://www.youtube.com/youtubei/v1/player"
)

type clientInfo struct {
	ClientName       string `json:"clientName"`
	ClientVersion    string `json:"clientVersion"`
	DeviceMake       string `json:"deviceMake"`
	DeviceModel      string `json:"deviceModel"`
	Platform         string `json:"platform"`
	OsName           string `json:"osName"`
	OsVersion        string `json:"osVersion"`
	Hl               string `json:"hl"`
	Gl               string `json:"gl"`
	UtcOffsetMinutes int    `json:"utcOffsetMinutes"`
}

type iosPlayerRequest struct {
	VideoID        string `json:"videoId"`
	ContentCheckOk bool   `json:"contentCheckOk"`
	Context        struct {
		Client clientInfo `json:"client"`
	} `json:"context"`
}

type playerResponse struct {
	VideoDetails struct {
		Title         string `json:"title"`
		LengthSeconds string `json:"lengthSeconds"`
		AgeRestricted bool   `json:"ageRestricted"`
	} `json:"videoDetails"`
	StreamingData struct {
		AdaptiveFormats []struct {
			ApproxDurationMs string `json:"approxDurationMs"`
		} `json:"adaptiveFormats"`
	} `json:"streamingData"`
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Microformat struct {
		PlayerMicroformatRenderer struct {
			IsFamilySafe bool   `json:"isFamilySafe"`
			YTRating     string `json:"ytRating"`
		} `json:"playerMicroformatRenderer"`
	} `json:"microformat"`
}

func (pr *playerResponse) isAgeRestricted() bool {
	if pr.VideoDetails.AgeRestricted {
		return true
	}
	if strings.EqualFold(pr.Microformat.PlayerMicroformatRenderer.YTRating, "ytAgeRestricted") {
		return true
	}
	if !pr.Microformat.PlayerMicroformatRenderer.IsFamilySafe &&
		(pr.PlayabilityStatus.Status == "AGE_VERIFICATION_REQUIRED" ||
			strings.Contains(strings.ToLower(pr.PlayabilityStatus.Reason), "age")) {
		return true
	}
	return false
}

func (y *YouTube) fetchMobileScrape(ctx context.Context, videoID string) (string, time.Duration, error) {
	reqPayload := iosPlayerRequest{VideoID: videoID, ContentCheckOk: true}
	reqPayload.Context.Client = clientInfo{
		ClientName:    "IOS",
		ClientVersion: "20.32.4",
		DeviceMake:    "Apple",
		DeviceModel:   "iPhone16,2",
		Platform:      "MOBILE",
		OsName:        "IOS",
		OsVersion:     "18.6.0.22G86",
		Hl:            "en",
		Gl:            "US",
	}

	raw, err := json.Marshal(reqPayload)
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, playerURL, bytes.NewReader(raw))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", mobileUserAgent)

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, fmt.Errorf("mobile scrape response %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}

	var pr playerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return "", 0, err
	}
	if pr.isAgeRestricted() {
		return "", 0, fmt.Errorf("mobile scrape: %w", ErrAgeRestricted)
	}

	title := strings.TrimSpace(pr.VideoDetails.Title)

	var secs int64
	if s := strings.TrimSpace(pr.VideoDetails.LengthSeconds); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			secs = n
		}
	}
	if secs == 0 {
		for _, f := range pr.StreamingData.AdaptiveFormats {
			msStr := strings.Split(f.ApproxDurationMs, ".")[0]
			if ms, err := strconv.ParseInt(msStr, 10, 64); err == nil && ms > 0 {
				secs = ms / 1000
				break
			}
		}
	}
	if secs == 0 {
		return "", 0, errors.New("duration not found")
	}

	return title, time.Duration(secs) * time.Second, nil
}

// --- Data API v3 fallback ---

type dataAPIResponse struct {
	Items []struct {
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration      string `json:"duration"`
			ContentRating struct {
				YTRating string `json:"ytRating"`
			} `json:"contentRating"`
		} `json:"contentDetails"`
	} `json:"items"`
}

func (y *YouTube) fetchDataAPI(ctx context.Context, videoID string) (string, time.Duration, error) {
	u := "https://www.googleapis.com/youtube/v3/videos?part=snippet,contentDetails&id=" +
		videoID + "&key=" + y.apiKey

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, fmt.Errorf("data api %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var out dataAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	if len(out.Items) == 0 {
		return "", 0, fmt.Errorf("data api: no items for id %q", videoID)
	}
	if strings.EqualFold(out.Items[0].ContentDetails.ContentRating.YTRating, "ytAgeRestricted") {
		return "", 0, fmt.Errorf("data api: %w", ErrAgeRestricted)
	}

	title := strings.TrimSpace(out.Items[0].Snippet.Title)
	dur, err := parseISO8601(strings.TrimSpace(out.Items[0].ContentDetails.Duration))
	if err != nil {
		return title, 0, err
	}
	return title, dur, nil
}

func parseISO8601(s string) (time.Duration, error) {
	m := iso8601Regex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid ISO 8601 duration: %q", s)
	}
	var d time.Duration
	if h := m[1]; h != "" {
		n, _ := strconv.Atoi(h)
		d += time.Duration(n) * time.Hour
	}
	if mm := m[2]; mm != "" {
		n, _ := strconv.Atoi(mm)
		d += time.Duration(n) * time.Minute
	}
	if s := m[3]; s != "" {
		n, _ := strconv.Atoi(s)
		d += time.Duration(n) * time.Second
	}
	return d, nil
}
