package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"doctools/internal/deps"
	"doctools/internal/preflight"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external programs, directories and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			statuses := preflight.CheckSystemDeps(cmd.Context(), cfg)
			for _, line := range dependencyLines(statuses, colorize) {
				fmt.Fprintln(stdout, line)
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Readiness", colorize) {
				fmt.Fprintln(stdout, line)
			}
			checks := preflight.RunAll(cmd.Context(), cfg)
			checks = append(checks,
				preflight.CheckEngineFromConfig(cmd.Context(), cfg),
				preflight.CheckCacheFromConfig(cmd.Context(), cfg),
			)
			for _, check := range checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
				}
				fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("History", statusInfo, "enabled: "+yesNo(cfg.History.Enabled), colorize))
			return nil
		},
	}
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(statuses)+1)
	missing := make([]string, 0)
	for _, dep := range statuses {
		if dep.Available {
			facts := make([]string, 0, 2)
			if dep.Command != "" {
				facts = append(facts, "command: "+dep.Command)
			}
			if dep.Version != "" {
				facts = append(facts, "version: "+dep.Version)
			}
			message := "Ready"
			if len(facts) > 0 {
				message = fmt.Sprintf("Ready (%s)", strings.Join(facts, ", "))
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}

		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		} else {
			missing = append(missing, dep.Name)
		}
		if dep.Description != "" {
			detail = fmt.Sprintf("%s (%s)", detail, dep.Description)
		}
		if dep.InstallHint != "" {
			detail = fmt.Sprintf("%s; install: %s", detail, dep.InstallHint)
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}
