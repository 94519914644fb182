package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the upstream admin API (the Rails backend) that owns
// moderation metadata for chat rooms.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("admin api: %s returned %d", req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

// FetchChatRooms batches the given room uids into one request and returns the
// metadata records keyed by uid. Uids missing from the response are simply
// absent from the map; callers fall back to the denormalized room fields.
func (c *Client) FetchChatRooms(ctx context.Context, uids []string) (map[string]RoomMeta, error) {
	params := url.Values{}
	for _, uid := range uids {
		params.Add("uids[]", uid)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/admins/chat_rooms?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode chat_rooms envelope: %w", err)
	}
	if envelope.Data == nil || envelope.Data.Resource == nil {
		return nil, fmt.Errorf("chat_rooms envelope missing data.resource")
	}

	metas := make(map[string]RoomMeta, len(envelope.Data.Resource.Data))
	for _, item := range envelope.Data.Resource.Data {
		metas[item.Attributes.UID] = item.Attributes
	}
	return metas, nil
}

// UpdateChatRoom applies a partial update to one room's metadata. Callers
// that need to observe the effect re-fetch; nothing from the response body is
// returned.
func (c *Client) UpdateChatRoom(ctx context.Context, uid string, fields map[string]interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{"chat_room": fields})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.baseURL+"/admins/chat_rooms/"+url.PathEscape(uid), bytes.NewReader(payload))
	if err != nil {
		return err
	}

	_, err = c.do(req)
	return err
}
