// Package githubapi is a minimal GitHub REST client covering what repository
// analysis needs: branch resolution, tree listing and raw blob fetching.
package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Nikhilk147/RepoScan/internal/errors"
)

// Client talks to the GitHub REST API and the raw content host.
type Client struct {
	apiBase string
	rawBase string
	token   string
	http    *http.Client
}

// TreeEntry is one entry of a recursive git tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	SHA  string `json:"sha"`
	Size int    `json:"size,omitempty"`
}

// NewClient creates a client. token may be empty for public repositories.
func NewClient(apiBase, rawBase, token string) *Client {
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		rawBase: strings.TrimRight(rawBase, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithToken returns a copy of the client using the given token. Used when a
// submission carries its own credential.
func (c *Client) WithToken(token string) *Client {
	if token == "" {
		return c
	}
	copied := *c
	copied.token = token
	return &copied
}

// ParseRepoURL extracts owner and repo from a GitHub repository URL.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	u, err := url.Parse(strings.TrimSuffix(repoURL, "/"))
	if err != nil {
		return "", "", fmt.Errorf("invalid repository url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url %q is not owner/repo shaped", repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errors.New(errors.RepoUnreachable, "github request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.New(errors.RepoUnreachable, "failed to read github response", err)
	}
	return body, resp.StatusCode, nil
}

// DefaultBranch returns the repository's default branch name.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	body, status, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s", c.apiBase, owner, repo))
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", errors.New(errors.RepoUnreachable,
			fmt.Sprintf("github returned %d for %s/%s", status, owner, repo), nil)
	}

	var meta struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("failed to decode repository metadata: %w", err)
	}
	if meta.DefaultBranch == "" {
		return "main", nil
	}
	return meta.DefaultBranch, nil
}

// LatestCommit returns the sha of the branch head.
func (c *Client) LatestCommit(ctx context.Context, owner, repo, branch string) (string, error) {
	body, status, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/commits/%s", c.apiBase, owner, repo, branch))
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", errors.New(errors.RepoUnreachable,
			fmt.Sprintf("github returned %d resolving %s head", status, branch), nil)
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(body, &commit); err != nil {
		return "", fmt.Errorf("failed to decode commit: %w", err)
	}
	return commit.SHA, nil
}

// Tree returns the recursive tree listing for a branch, sorted by path.
func (c *Client) Tree(ctx context.Context, owner, repo, branch string) ([]TreeEntry, error) {
	body, status, err := c.get(ctx,
		fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", c.apiBase, owner, repo, url.PathEscape(branch)))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.New(errors.RepoUnreachable,
			fmt.Sprintf("github returned %d listing tree of %s/%s", status, owner, repo), nil)
	}

	var tree struct {
		Tree      []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode tree: %w", err)
	}

	sort.Slice(tree.Tree, func(i, j int) bool {
		return tree.Tree[i].Path < tree.Tree[j].Path
	})
	return tree.Tree, nil
}

// RawFile fetches a file's content at a given ref from the raw content host.
func (c *Client) RawFile(ctx context.Context, owner, repo, ref, path string) ([]byte, error) {
	rawURL := fmt.Sprintf("%s/%s/%s/%s/%s", c.rawBase, owner, repo, url.PathEscape(ref), path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(errors.RepoUnreachable, "raw fetch failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("raw fetch of %s returned %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
