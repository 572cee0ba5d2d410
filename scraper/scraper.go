// Package scraper fetches and parses the school's substitution-plan pages.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"vplan-notifier/pkg/timetable"
)

// AuthError indicates the plan server rejected our credentials. Retrying
// with the same credentials cannot help.
type AuthError struct {
	URL        string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: credentials rejected", e.StatusCode, e.URL)
}

// IsAuthError checks if an error is an authentication failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Scraper fetches weekday pages over HTTP basic auth.
type Scraper struct {
	client   *http.Client
	logger   *slog.Logger
	baseURL  string
	user     string
	password string
}

// New creates a new scraper. baseURL is the directory holding the five
// weekday pages, e.g. "https://example.org/vtp".
func New(client *http.Client, baseURL, user, password string, logger *slog.Logger) *Scraper {
	return &Scraper{
		client:   client,
		logger:   logger,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		user:     user,
		password: password,
	}
}

// Fetch downloads the page for one weekday and returns its raw bytes. The
// caller fingerprints the bytes, so they are returned untouched.
func (s *Scraper) Fetch(ctx context.Context, weekday string) ([]byte, error) {
	pageURL := fmt.Sprintf("%s/%s.html", s.baseURL, weekday)

	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.SetBasicAuth(s.user, s.password)

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds(),
				"content_length", resp.ContentLength)

			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return &AuthError{URL: pageURL, StatusCode: resp.StatusCode}
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "weekday", weekday, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsAuthError(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return body, nil
}

// Parse extracts the schedule date and all class rows from a weekday page.
// It fails when the date marker is missing, which usually means the page
// layout changed and the rows cannot be trusted either.
func Parse(body []byte, weekday string) (*timetable.DayPlan, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	date := strings.TrimSpace(doc.Find("span.vpfuerdatum").First().Text())
	if date == "" {
		return nil, fmt.Errorf("no schedule date found on %s page", weekday)
	}

	plan := &timetable.DayPlan{Weekday: weekday, Date: date}
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		// Rows with fewer than six cells are headers or filler.
		if cells.Length() < 6 {
			return
		}
		texts := make([]string, cells.Length())
		cells.Each(func(i int, td *goquery.Selection) {
			texts[i] = strings.TrimSpace(td.Text())
		})
		plan.Rows = append(plan.Rows, timetable.Row{
			Weekday: weekday,
			Date:    date,
			Class:   texts[0],
			Hour:    texts[1],
			Subject: texts[2],
			Teacher: texts[3],
			Room:    texts[4],
			Info:    texts[5],
		})
	})

	return plan, nil
}
