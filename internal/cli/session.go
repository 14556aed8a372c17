package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Email        string `json:"email"`
	PlayerID     string `json:"player_id"`
}

// BaseDir is override when set, otherwise ~/.tradepost. It is created 0700.
func BaseDir(override string) (string, error) {
	dir := strings.TrimSpace(override)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".tradepost")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func SaveSession(dir string, s Session) error {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "session.json"), body, 0o600)
}

func LoadSession(dir string) (Session, error) {
	body, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, fmt.Errorf("no access token found in session")
	}
	return s, nil
}

func ClearSession(dir string) error {
	err := os.Remove(filepath.Join(dir, "session.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
