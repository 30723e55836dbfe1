// Package slack posts notifications and their images to a Slack channel.
package slack

import (
	"context"
	"fmt"
	"image"
	"os"

	"aimonitor/internal/logger"
	"aimonitor/internal/notifier"

	"github.com/disintegration/imaging"
	"github.com/slack-go/slack"
)

// API is the subset of the Slack client used by the notifier.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

type Notifier struct {
	api     API
	channel string
	tmpDir  string
	logger  *logger.Logger
}

var _ notifier.Notifier = (*Notifier)(nil)

// New creates a Slack notifier for channel authenticated with token.
func New(token, channel string, logger *logger.Logger) *Notifier {
	return NewWithAPI(slack.New(token), channel, os.TempDir(), logger)
}

// NewWithAPI creates a notifier over an existing client, staging images in tmpDir.
func NewWithAPI(api API, channel, tmpDir string, logger *logger.Logger) *Notifier {
	return &Notifier{
		api:     api,
		channel: channel,
		tmpDir:  tmpDir,
		logger:  logger,
	}
}

// Notify posts message to the channel and then uploads img with message as its title.
// The staged PNG is removed on every path.
func (n *Notifier) Notify(ctx context.Context, message string, img image.Image) {
	path, size, err := n.stageImage(img)
	if path != "" {
		defer n.removeImage(path)
	}
	if err != nil {
		n.logger.Error("Error saving image for %s: %v", n.channel, err)
		return
	}

	if _, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(message, false)); err != nil {
		n.logger.Error("Error posting message to Slack channel %s: %v", n.channel, err)
		return
	}

	_, err = n.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:  n.channel,
		File:     path,
		FileSize: size,
		Filename: "detection.png",
		Title:    message,
	})
	if err != nil {
		n.logger.Error("Error sending image to Slack channel %s: %v", n.channel, err)
		return
	}

	n.logger.Info("Image sent successfully to %s", n.channel)
}

// stageImage encodes img as PNG into a temporary file. A non-empty path is
// returned whenever a file was created, even if encoding failed.
func (n *Notifier) stageImage(img image.Image) (string, int, error) {
	if img == nil {
		return "", 0, fmt.Errorf("no image")
	}

	f, err := os.CreateTemp(n.tmpDir, "aimonitor-*.png")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	if err := imaging.Encode(f, img, imaging.PNG); err != nil {
		f.Close()
		return path, 0, fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, 0, fmt.Errorf("close temp file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return path, 0, fmt.Errorf("stat temp file: %w", err)
	}
	return path, int(info.Size()), nil
}

func (n *Notifier) removeImage(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		n.logger.Warning("Error removing temporary image %s: %v", path, err)
	}
}
