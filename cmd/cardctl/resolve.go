package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/internal/media"
	"github.com/spf13/cobra"
)

type resolveOptions struct {
	kind   string
	remote bool
}

func newResolveCmd(global *globalOptions) *cobra.Command {
	opts := &resolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve <url>",
		Short: "Find a loadable URL for a remote audio or image",
		Long: `Tries the api-service media proxy, the direct URL and the public CORS
proxies in order and prints the first URL that serves the expected media.
Images that no URL serves are printed as a base64 data URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, global, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.kind, "kind", string(domain.MediaKindImage), "media kind: audio or image")
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "resolve on the api-service instead of locally")
	return cmd
}

func runResolve(cmd *cobra.Command, global *globalOptions, opts *resolveOptions, target string) error {
	kind, err := domain.ParseMediaKind(opts.kind)
	if err != nil {
		return err
	}
	ref := domain.MediaReference{URL: target, Kind: kind}
	if err := ref.Validate(); err != nil {
		return err
	}

	if opts.remote {
		url, err := global.apiClient().ResolveMedia(cmd.Context(), ref)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	}

	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}
	mc := cfg.Media

	fetcher := media.NewFetcher(&http.Client{Timeout: mc.UpstreamTimeout}, mc.UserAgent, mc.MaxBytes)
	prober := media.NewHTTPProber(fetcher)

	// No local blob server, so audio stops after the CORS proxies
	strategies := []media.Strategy{
		media.NewBackendProxy(global.apiURL, mc.ProxyTimeout, prober),
		media.NewDirect(mc.DirectTimeout, prober),
	}
	strategies = append(strategies, media.NewCORSProxies(mc.CORSProxies, mc.CORSTimeout, prober)...)
	strategies = append(strategies, media.NewDataURLMaterializer(fetcher, mc.UpstreamTimeout))

	resolver := media.NewResolver(strategies, media.NewLRUCache(1, mc.CacheTTL), global.logger())

	res, err := resolver.Resolve(cmd.Context(), ref)
	if err != nil {
		var all *domain.AllStrategiesFailedError
		if errors.As(err, &all) {
			for _, f := range all.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %-24s %v\n", f.Strategy, f.Err)
			}
		}
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "resolved via %s\n", res.Strategy)
	fmt.Fprintln(cmd.OutOrStdout(), res.URL)
	return nil
}
