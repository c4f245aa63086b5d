package main

import (
	"net/url"

	"github.com/mitranim/pgq/conf"
	"github.com/spf13/cobra"
)

const maskedPassword = `********`

// Output of "config".
type configView struct {
	Path string    `json:"path,omitempty"`
	File conf.File `json:"config"`
}

func (self *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `config`,
		Short: `Print the effective settings`,
		Long: `Prints the settings after merging defaults, the config file, PGQ_*
environment variables and flags. Passwords are masked.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			file := *self.file
			if file.Database.Password != `` {
				file.Database.Password = maskedPassword
			}
			if loc, err := url.Parse(file.Database.URL); err == nil {
				file.Database.URL = loc.Redacted()
			}
			return self.write(configView{Path: self.filePath, File: file})
		},
	}
}
