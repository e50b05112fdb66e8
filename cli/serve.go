package cli

import (
	"github.com/spf13/cobra"

	"github.com/digitorus/htmlpdfsign"
	"github.com/digitorus/htmlpdfsign/config"
	"github.com/digitorus/htmlpdfsign/internal/server"
)

func (a *app) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve signing over HTTP",
		Long: "Serve POST /v1/sign (PDF body) and POST /v1/render (HTML body), both\n" +
			"answering with the signed PDF, plus GET /healthz and GET /metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			return a.withFinish(func() error {
				s, err := htmlpdfsign.Open(a.cfg, a.log, a.metrics)
				if err != nil {
					return err
				}
				return server.New(s, a.metrics, a.log).ListenAndServe(cmd.Context(), a.cfg.Server.Addr)
			})
		},
	}
	a.signingFlags(cmd)
	cmd.Flags().StringVar(&a.pageSize, "page-size", "", "Page size for /v1/render: A3, A4, A5, Letter or Legal")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default "+config.DefaultAddr+")")
	return cmd
}
