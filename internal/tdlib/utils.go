package tdlib

import (
	"github.com/zelenin/go-tdlib/client"
)

func GetUsername(usernames *client.Usernames) string {
	if usernames == nil {
		return ""
	}
	if len(usernames.ActiveUsernames) == 0 {
		return ""
	}
	return usernames.ActiveUsernames[0]
}
