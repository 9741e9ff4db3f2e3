package termuxapi

import (
	"context"
	"strings"
)

// NotificationList fetches the active notifications. The service can also
// dismiss notifications by key as part of the same call.
type NotificationList struct {
	removeKeys []string
}

// NewNotificationList returns the command; removeKeys may be empty.
func NewNotificationList(removeKeys []string) *NotificationList {
	keys := make([]string, len(removeKeys))
	copy(keys, removeKeys)
	return &NotificationList{removeKeys: keys}
}

// Method returns "NotificationList".
func (n *NotificationList) Method() string { return "NotificationList" }

// Extras carries the keys to dismiss, always present.
func (n *NotificationList) Extras() map[string]any {
	return map[string]any{"keys": n.removeKeys}
}

// Accept takes the first data line unconditionally.
func (n *NotificationList) Accept(Object) bool { return true }

// NotificationRemove dismisses one notification by id.
type NotificationRemove struct {
	id string
}

// NewNotificationRemove returns the command. The id must not be blank.
func NewNotificationRemove(id string) (*NotificationRemove, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &ArgumentError{Name: "notification id", Value: id}
	}
	return &NotificationRemove{id: id}, nil
}

// Method returns "NotificationRemove".
func (n *NotificationRemove) Method() string { return "NotificationRemove" }

// Extras carries the notification id.
func (n *NotificationRemove) Extras() map[string]any {
	return map[string]any{"id": n.id}
}

// Accept takes the first data line unconditionally.
func (n *NotificationRemove) Accept(Object) bool { return true }

// ListNotifications runs a NotificationList command against endpoint.
func ListNotifications(ctx context.Context, endpoint Endpoint, removeKeys []string) (Object, error) {
	return Run(ctx, endpoint, NewNotificationList(removeKeys))
}

// RemoveNotification runs a NotificationRemove command against endpoint.
func RemoveNotification(ctx context.Context, endpoint Endpoint, id string) (Object, error) {
	cmd, err := NewNotificationRemove(id)
	if err != nil {
		return nil, err
	}
	return Run(ctx, endpoint, cmd)
}
