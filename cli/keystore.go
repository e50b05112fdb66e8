package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitorus/htmlpdfsign/credential"
	"github.com/digitorus/htmlpdfsign/keystore"
)

func (a *app) keystoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Inspect keystores",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List keystore entries with their validity and policy findings",
		Example: `  htmlpdfsign keystore list -k signing.p12
  htmlpdfsign keystore list -c htmlpdfsign.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			return a.withFinish(func() error { return a.runKeystoreList(cmd) })
		},
	}
	list.Flags().StringVarP(&a.keystorePath, "keystore", "k", "", "Keystore file (PKCS#12 or JKS)")
	list.Flags().StringVar(&a.keystoreType, "keystore-type", "", "Keystore type: auto, pkcs12 or jks")

	cmd.AddCommand(list)
	return cmd
}

func (a *app) runKeystoreList(cmd *cobra.Command) error {
	ks, err := keystore.LoadFile(a.cfg.Keystore.Path, a.cfg.Keystore.Password,
		keystore.WithFormat(a.cfg.KeystoreFormat()),
		keystore.WithLogger(a.log),
	)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %d entries)\n", a.cfg.Keystore.Path, ks.Format(), ks.Len())
	writeEntries(cmd.OutOrStdout(), ks, time.Now())
	return nil
}

func writeEntries(out io.Writer, ks *keystore.KeyStore, now time.Time) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALIAS\tSUBJECT\tNOT AFTER\tKEY\tSTATUS")

	for _, alias := range ks.Aliases() {
		e, _ := ks.Entry(alias)
		leaf := e.Leaf()
		if leaf == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t%s\tno certificate\n", alias, yesNo(e.PrivateKey != nil))
			continue
		}

		status := "ok"
		invalid, warnings := credential.Check(e, now)
		switch {
		case e.PrivateKey == nil:
			status = "certificate only"
		case invalid != nil:
			status = invalid.Error()
		case len(warnings) > 0:
			status = fmt.Sprintf("%d warning(s)", len(warnings))
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			alias,
			leaf.Subject.CommonName,
			leaf.NotAfter.UTC().Format(time.DateOnly),
			yesNo(e.PrivateKey != nil),
			status,
		)
		for _, w := range warnings {
			fmt.Fprintf(tw, "\t\t\t\t%s\n", w.Msg)
		}
	}
	_ = tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
