package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/internal/registry"
	"github.com/sells-group/vqa-filter/internal/router"
)

var routeCmd = &cobra.Command{
	Use:   "route <question>",
	Short: "Show which pipelines a question routes to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if noSemantic, _ := cmd.Flags().GetBool("no-semantic"); noSemantic {
			cfg.Router.Semantic = false
		}
		if err := cfg.Validate("route"); err != nil {
			return err
		}

		reg, err := registry.Load(cfg.Registry.Path)
		if err != nil {
			return eris.Wrap(err, "load pipeline registry")
		}

		var rt *router.Router
		if cfg.Router.Semantic {
			factory, err := guardedFactory(cfg, nil)
			if err != nil {
				return err
			}
			r, client, err := newRouter(ctx, cfg, reg, factory)
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck
			rt = r
		} else {
			rt, err = router.New(reg, nil, router.Options{})
			if err != nil {
				return err
			}
		}

		question := strings.Join(args, " ")
		return writeRoute(os.Stdout, question, rt.KeywordMatch(router.Normalize(question)), rt.Route(ctx, question))
	},
}

func init() {
	routeCmd.Flags().Bool("no-semantic", false, "use the keyword stage only")
	rootCmd.AddCommand(routeCmd)
}

// routeReport is the JSON printed by the route command.
type routeReport struct {
	Question   string              `json:"question"`
	KeywordIDs []string            `json:"keyword_ids"`
	Decision   model.RouteDecision `json:"decision"`
}

func writeRoute(w io.Writer, question string, keywordIDs []string, dec model.RouteDecision) error {
	if keywordIDs == nil {
		keywordIDs = []string{}
	}
	if dec.IDs == nil {
		dec.IDs = []string{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(routeReport{Question: question, KeywordIDs: keywordIDs, Decision: dec})
}
