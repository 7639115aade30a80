package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
	"github.com/desertthunder/nowplaying/internal/ui"
	"github.com/urfave/cli/v3"
)

// Dashboard launches the terminal dashboard for one playlist group.
func (r *Runner) Dashboard(ctx context.Context, cmd *cli.Command) error {
	// Logs would tear through the TUI, so they go to a file or nowhere.
	logOut, closeLog, err := dashboardLog(cmd.String("log-file"))
	if err != nil {
		return err
	}
	defer closeLog()
	logger := shared.NewLogger(logOut)
	logger.SetLevel(r.logger.GetLevel())
	r.SetLogger(logger)

	st, err := r.build()
	if err != nil {
		return err
	}
	if err := st.requireAuth(); err != nil {
		return err
	}

	name := cmd.String("group")
	if _, ok := r.config.Group(name); !ok {
		return fmt.Errorf("%w: group %q is not configured", shared.ErrNotFound, name)
	}

	progress := make(chan tasks.ProgressUpdate, 32)
	st.pipeline.Background = ctx
	st.pipeline.Progress = progress

	reports, err := st.pipeline.Run(ctx)
	if err != nil && reports == nil {
		return err
	}
	for _, rep := range reports {
		if rep.Name == name && rep.Err != nil {
			return rep.Err
		}
	}

	group, ok := st.registry.Group(name)
	if !ok {
		return fmt.Errorf("%w: group %q", shared.ErrNotFound, name)
	}

	model := ui.NewModel(ctx, group, st.spotify, st.resolver, st.coordinator, progress)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("error running dashboard: %w", err)
	}
	return nil
}

func dashboardLog(path string) (io.Writer, func() error, error) {
	if path == "" {
		return io.Discard, func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f.Close, nil
}
