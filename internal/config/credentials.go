package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
)

// CameraCredential is one entry of the credentials file.
type CameraCredential struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IP       string `json:"ip"`
}

// Credentials maps camera ids to their login details.
type Credentials struct {
	Cameras map[string]CameraCredential `json:"credentials"`
}

// LoadCredentials parses a JSON credentials file of the form
// {"credentials": {"<id>": {"username": ..., "password": ..., "ip": ...}}}.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return &creds, nil
}

// StreamURL builds the Reolink sub-stream RTSP URL for a camera id.
func (c *Credentials) StreamURL(id string) (string, error) {
	cred, ok := c.Cameras[id]
	if !ok {
		return "", fmt.Errorf("no credentials for camera %q", id)
	}
	if cred.IP == "" {
		return "", fmt.Errorf("camera %q has no ip", id)
	}
	user := url.UserPassword(cred.Username, cred.Password).String()
	return fmt.Sprintf("rtsp://%s@%s:554//h264Preview_01_sub", user, cred.IP), nil
}

// URLs resolves ids in order. With no ids, every camera in the file is used
// in sorted id order so indexes stay stable across restarts.
func (c *Credentials) URLs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		for id := range c.Cameras {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	urls := make([]string, 0, len(ids))
	for _, id := range ids {
		u, err := c.StreamURL(id)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, nil
}
