/*
Package rest is an HTTP client for the external membership/grant
directory.

PURPOSE:
  The engine only knows the donor.Directory interface; this client
  binds it to the directory service's REST API. Every method returns an
  error on any non-2xx reply; engine call sites drop those errors, so
  the client never retries.

ENDPOINTS CONSUMED:
  GET    {base}/groups/{group}/members              membership roster
  GET    {base}/groups/{group}/members/{user}       one member + grants
  PUT    {base}/groups/{group}/members/{user}/grants/{grant}
  DELETE {base}/groups/{group}/members/{user}/grants/{grant}
  PUT    {base}/groups/{group}/members/{user}/grants  (replace set)
*/
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pledge/donor-engine/donor"
)

// Client talks to the directory service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ donor.Directory = (*Client)(nil)

// NewClient creates a directory client. token may be empty when the
// directory does not require auth.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// memberPayload is the wire form of one member.
type memberPayload struct {
	User   string   `json:"user"`
	Grants []string `json:"grants"`
}

func (p memberPayload) toMember() donor.Member {
	m := donor.Member{User: donor.UserID(p.User), Grants: make([]donor.GrantID, len(p.Grants))}
	for i, g := range p.Grants {
		m.Grants[i] = donor.GrantID(g)
	}
	return m
}

// ResolveMember fetches one member's grants within a group.
func (c *Client) ResolveMember(ctx context.Context, group donor.GroupID, user donor.UserID) (donor.Member, error) {
	var payload memberPayload
	err := c.do(ctx, http.MethodGet, c.memberPath(group, user), nil, &payload)
	if err != nil {
		return donor.Member{}, err
	}
	return payload.toMember(), nil
}

// GroupMembers fetches the full roster of a group.
func (c *Client) GroupMembers(ctx context.Context, group donor.GroupID) ([]donor.Member, error) {
	var payload []memberPayload
	err := c.do(ctx, http.MethodGet, c.groupPath(group)+"/members", nil, &payload)
	if err != nil {
		return nil, err
	}

	members := make([]donor.Member, len(payload))
	for i, p := range payload {
		members[i] = p.toMember()
	}
	return members, nil
}

// AddGrant grants the marker to the member.
func (c *Client) AddGrant(ctx context.Context, group donor.GroupID, user donor.UserID, grant donor.GrantID) error {
	return c.do(ctx, http.MethodPut, c.memberPath(group, user)+"/grants/"+url.PathEscape(string(grant)), nil, nil)
}

// RemoveGrant removes the marker from the member.
func (c *Client) RemoveGrant(ctx context.Context, group donor.GroupID, user donor.UserID, grant donor.GrantID) error {
	return c.do(ctx, http.MethodDelete, c.memberPath(group, user)+"/grants/"+url.PathEscape(string(grant)), nil, nil)
}

// ReplaceGrants replaces the member's full grant set. Idempotent.
func (c *Client) ReplaceGrants(ctx context.Context, group donor.GroupID, user donor.UserID, grants []donor.GrantID) error {
	body := struct {
		Grants []string `json:"grants"`
	}{Grants: make([]string, len(grants))}
	for i, g := range grants {
		body.Grants[i] = string(g)
	}

	return c.do(ctx, http.MethodPut, c.memberPath(group, user)+"/grants", body, nil)
}

func (c *Client) groupPath(group donor.GroupID) string {
	return c.baseURL + "/groups/" + url.PathEscape(string(group))
}

func (c *Client) memberPath(group donor.GroupID, user donor.UserID) string {
	return c.groupPath(group) + "/members/" + url.PathEscape(string(user))
}

// do runs one request, encoding body as JSON when non-nil and decoding
// the reply into out when non-nil.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory %s %s: status %d: %s", method, endpoint, resp.StatusCode, data)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
