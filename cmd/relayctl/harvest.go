package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// harvestOptions controls link collection from listing pages. With RespectRobots set,
// pages the site's robots.txt disallows are not fetched.
type harvestOptions struct {
	Pattern       string
	UserAgent     string
	Timeout       time.Duration
	Limit         int
	RespectRobots bool
}

// harvestProfileLinks visits each listing page and returns the profile links it finds, in page
// order, without query strings or fragments and without duplicates.
func harvestProfileLinks(pages []string, opts harvestOptions) ([]string, error) {
	c := colly.NewCollector(colly.UserAgent(opts.UserAgent))
	c.IgnoreRobotsTxt = !opts.RespectRobots
	if opts.Timeout > 0 {
		c.SetRequestTimeout(opts.Timeout)
	}

	seen := make(map[string]struct{})
	var (
		links    []string
		visitErr error
	)
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if opts.Limit > 0 && len(links) >= opts.Limit {
			return
		}
		link := canonicalProfileURL(e.Request.AbsoluteURL(e.Attr("href")))
		if link == "" || !strings.Contains(link, opts.Pattern) {
			return
		}
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("fetch %s: %w", r.Request.URL, err)
	})

	for _, page := range pages {
		if err := c.Visit(page); err != nil {
			return links, fmt.Errorf("visit %s: %w", page, err)
		}
		c.Wait()
		if visitErr != nil {
			return links, visitErr
		}
	}
	return links, nil
}

func canonicalProfileURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/")
}
