package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rank-tree/internal/bus"
	"github.com/ricesearch/rank-tree/internal/dataset"
	"github.com/ricesearch/rank-tree/internal/itempar"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/predict"
	"github.com/ricesearch/rank-tree/internal/ranktree"
	"github.com/ricesearch/rank-tree/internal/tree"
)

// loadData reads the --data flag. An empty path returns nil.
func loadData(cmd *cobra.Command) (*dataset.Dataset, error) {
	path, _ := cmd.Flags().GetString("data")
	if path == "" {
		return nil, nil
	}
	return dataset.Load(path)
}

func requireName(cmd *cobra.Command) (string, error) {
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		return "", errors.ValidationError("--name is required")
	}
	return name, nil
}

func fitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a ranking tree",
		Long: `Fit a ranking tree to grouped rankings and their covariates.

The tree is saved when --name is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, p, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			data, err := loadData(cmd)
			if err != nil {
				return err
			}
			formula, _ := cmd.Flags().GetString("formula")
			ref, _ := cmd.Flags().GetString("ref")
			name, _ := cmd.Flags().GetString("name")
			desc, _ := cmd.Flags().GetString("description")

			res, err := svc.FitTree(cmd.Context(), ranktree.FitRequest{
				Data:        data,
				Formula:     formula,
				Ref:         itempar.ParseReference(ref),
				Name:        name,
				Description: desc,
			})
			if err != nil {
				return err
			}
			return printTree(p, name, res.Tree)
		},
	}

	cmd.Flags().String("data", "", "training data file (JSON)")
	cmd.Flags().String("formula", "rankings ~ .", "model formula")
	cmd.Flags().String("ref", "", "reference item (label or 1-based position)")
	cmd.Flags().String("name", "", "save the tree under this name")
	cmd.Flags().String("description", "", "description stored with the tree")
	cmd.MarkFlagRequired("data")

	return cmd
}

type treeSummary struct {
	Name    string        `json:"name,omitempty"`
	Formula string        `json:"formula"`
	Groups  int           `json:"groups"`
	Splits  int           `json:"splits"`
	DF      int           `json:"df"`
	LogLik  float64       `json:"loglik"`
	AIC     float64       `json:"aic"`
	Nodes   []nodeSummary `json:"nodes"`
}

type nodeSummary struct {
	ID    int    `json:"id"`
	NObs  int    `json:"nobs"`
	Split string `json:"split,omitempty"`
	Left  int    `json:"left,omitempty"`
	Right int    `json:"right,omitempty"`
}

func printTree(p *printer, name string, t *tree.Tree) error {
	s := treeSummary{
		Name:    name,
		Formula: t.Formula.String(),
		Groups:  len(t.Fitted),
		Splits:  t.NumSplits(),
		DF:      t.DF(),
		LogLik:  t.LogLik,
		AIC:     t.AIC(),
	}
	for _, n := range t.Nodes() {
		ns := nodeSummary{ID: n.ID, NObs: n.NObs}
		if !n.IsTerminal() {
			ns.Split = n.Split.String()
			ns.Left, ns.Right = n.Left, n.Right
		}
		s.Nodes = append(s.Nodes, ns)
	}

	if p.json {
		return p.JSON(s)
	}

	if name != "" {
		p.Title("Tree " + name)
	} else {
		p.Title("Tree")
	}
	p.Field("formula", s.Formula)
	p.Field("groups", s.Groups)
	p.Field("splits", s.Splits)
	p.Field("df", s.DF)
	p.Field("loglik", formatFloat(s.LogLik))
	p.Field("aic", formatFloat(s.AIC))

	rows := make([][]string, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		split := "terminal"
		if n.Split != "" {
			split = fmt.Sprintf("%s -> %d | %d", n.Split, n.Left, n.Right)
		}
		rows = append(rows, []string{strconv.Itoa(n.ID), strconv.Itoa(n.NObs), split})
	}
	p.Table([]string{"node", "groups", "split"}, rows)
	return nil
}

func coefCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coef",
		Short: "Print terminal node item parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireName(cmd)
			if err != nil {
				return err
			}
			scaleFlag, _ := cmd.Flags().GetString("scale")
			scale, err := itempar.ParseScale(scaleFlag)
			if err != nil {
				return err
			}
			ref, _ := cmd.Flags().GetString("ref")
			nodes, _ := cmd.Flags().GetIntSlice("nodes")
			drop, _ := cmd.Flags().GetBool("drop")

			svc, p, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			table, err := svc.Coefficients(cmd.Context(), name, tree.CoefOptions{
				Nodes: nodes,
				Ref:   itempar.ParseReference(ref),
				Scale: scale,
				Drop:  drop,
			})
			if err != nil {
				return err
			}

			if vec, ok := table.Vector(); ok && table.Dropped {
				if p.json {
					vals := make(map[string]float64, len(vec))
					for j, c := range table.Columns {
						vals[c] = vec[j]
					}
					return p.JSON(vals)
				}
				p.Title(fmt.Sprintf("Coefficients, node %d (%s scale)", table.NodeIDs[0], scale))
				p.Table(table.Columns, [][]string{formatFloats(vec)})
				return nil
			}

			if p.json {
				out := make(map[string]map[string]float64, len(table.NodeIDs))
				for _, id := range table.NodeIDs {
					row, _ := table.Row(id)
					vals := make(map[string]float64, len(row))
					for j, c := range table.Columns {
						vals[c] = row[j]
					}
					out[strconv.Itoa(id)] = vals
				}
				return p.JSON(out)
			}

			p.Title(fmt.Sprintf("Coefficients (%s scale)", scale))
			rows := make([][]string, 0, len(table.NodeIDs))
			for _, id := range table.NodeIDs {
				row, _ := table.Row(id)
				rows = append(rows, append([]string{strconv.Itoa(id)}, formatFloats(row)...))
			}
			p.Table(append([]string{"node"}, table.Columns...), rows)
			return nil
		},
	}

	cmd.Flags().String("name", "", "tree name")
	cmd.Flags().String("scale", "worth", "parameter scale (worth, log)")
	cmd.Flags().String("ref", "", "reference item (label or 1-based position)")
	cmd.Flags().IntSlice("nodes", nil, "terminal node ids (default all)")
	cmd.Flags().Bool("drop", false, "print a single selected node as a flat vector")

	return cmd
}

func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict with a stored tree",
		Long: `Predict node ids, item parameters, item ranks or the best item for each
group in --data. Without --data the training groups are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireName(cmd)
			if err != nil {
				return err
			}
			typeFlag, _ := cmd.Flags().GetString("type")
			typ, err := predict.ParseType(typeFlag)
			if err != nil {
				return err
			}
			scaleFlag, _ := cmd.Flags().GetString("scale")
			scale, err := itempar.ParseScale(scaleFlag)
			if err != nil {
				return err
			}
			ref, _ := cmd.Flags().GetString("ref")

			data, err := loadData(cmd)
			if err != nil {
				return err
			}

			svc, p, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			preds, err := svc.Predict(cmd.Context(), name, data, predict.Options{
				Type:  typ,
				Scale: scale,
				Ref:   itempar.ParseReference(ref),
			})
			if err != nil {
				return err
			}
			return printPredictions(p, preds)
		},
	}

	cmd.Flags().String("name", "", "tree name")
	cmd.Flags().String("data", "", "covariate data file (JSON, default training data)")
	cmd.Flags().String("type", "itempar", "prediction type (node, itempar, rank, best)")
	cmd.Flags().String("scale", "worth", "parameter scale for itempar (worth, log)")
	cmd.Flags().String("ref", "", "reference item for itempar")

	return cmd
}

func printPredictions(p *printer, preds *predict.Predictions) error {
	var headers []string
	rows := make([][]string, preds.Len())
	switch preds.Type {
	case predict.TypeNode:
		headers = []string{"group", "node"}
		for i, k := range preds.Keys {
			rows[i] = []string{k, strconv.Itoa(preds.NodeIDs[i])}
		}
	case predict.TypeBest:
		headers = []string{"group", "best"}
		for i, k := range preds.Keys {
			rows[i] = []string{k, preds.Best[i]}
		}
	case predict.TypeRank:
		headers = append([]string{"group"}, preds.Columns...)
		for i, k := range preds.Keys {
			row := []string{k}
			for _, r := range preds.Ranks[i] {
				row = append(row, strconv.Itoa(r))
			}
			rows[i] = row
		}
	default:
		headers = append([]string{"group"}, preds.Columns...)
		for i, k := range preds.Keys {
			rows[i] = append([]string{k}, formatFloats(preds.ItemPar[i])...)
		}
	}

	if p.json {
		out := make(map[string]any, len(rows))
		for _, row := range rows {
			if len(row) == 2 && (preds.Type == predict.TypeNode || preds.Type == predict.TypeBest) {
				out[row[0]] = row[1]
				continue
			}
			vals := make(map[string]string, len(row)-1)
			for j, h := range headers[1:] {
				vals[h] = row[j+1]
			}
			out[row[0]] = vals
		}
		return p.JSON(out)
	}

	p.Title(fmt.Sprintf("Predictions (%s)", preds.Type))
	p.Table(headers, rows)
	return nil
}

func aicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aic",
		Short: "Compute the AIC of a stored tree",
		Long: `Compute the AIC of a stored tree. With --data the node models are
re-evaluated on the new rankings without refitting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireName(cmd)
			if err != nil {
				return err
			}
			data, err := loadData(cmd)
			if err != nil {
				return err
			}

			svc, p, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.InformationCriterion(cmd.Context(), name, data)
			if err != nil {
				return err
			}
			if p.json {
				return p.JSON(res)
			}

			p.Title("AIC " + name)
			p.Field("aic", formatFloat(res.AIC))
			p.Field("loglik", formatFloat(res.LogLik))
			p.Field("df", res.DF)
			p.Field("groups", res.Groups)
			p.Field("in sample", res.InSample)
			if len(res.Nodes) > 0 {
				rows := make([][]string, len(res.Nodes))
				for i, n := range res.Nodes {
					rows[i] = []string{
						strconv.Itoa(n.NodeID),
						strconv.Itoa(n.Groups),
						strconv.Itoa(n.Rankings),
						formatFloat(n.NegLogLik),
						fmt.Sprint(len(n.Warnings)),
					}
				}
				p.Table([]string{"node", "groups", "rankings", "neg loglik", "warnings"}, rows)
			}
			return nil
		},
	}

	cmd.Flags().String("name", "", "tree name")
	cmd.Flags().String("data", "", "new data file (JSON, default in-sample)")

	return cmd
}

func agreementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agreement",
		Short: "Compare predicted and observed rankings",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireName(cmd)
			if err != nil {
				return err
			}
			data, err := loadData(cmd)
			if err != nil {
				return err
			}
			details, _ := cmd.Flags().GetBool("details")

			svc, p, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			results, summary, err := svc.Agreement(cmd.Context(), name, data)
			if err != nil {
				return err
			}
			if p.json {
				if details {
					return p.JSON(map[string]any{"summary": summary, "rankings": results})
				}
				return p.JSON(summary)
			}

			p.Title("Agreement " + name)
			p.Field("rankings", summary.RankingCount)
			p.Field("kendall tau", formatFloat(summary.MeanKendallTau))
			p.Field("top-1 accuracy", formatFloat(summary.TopOneAccuracy))
			p.Field("ndcg", formatFloat(summary.MeanNDCG))
			p.Field("mrr", formatFloat(summary.MeanMRR))
			if details {
				rows := make([][]string, len(results))
				for i, r := range results {
					rows[i] = []string{
						strconv.Itoa(r.Group),
						strconv.Itoa(r.Node),
						formatFloat(r.KendallTau),
						strconv.FormatBool(r.TopOne),
						formatFloat(r.NDCG),
						formatFloat(r.MRR),
					}
				}
				p.Table([]string{"group", "node", "tau", "top-1", "ndcg", "mrr"}, rows)
			}
			return nil
		},
	}

	cmd.Flags().String("name", "", "tree name")
	cmd.Flags().String("data", "", "data file with observed rankings (JSON)")
	cmd.Flags().Bool("details", false, "print one row per ranking")
	cmd.MarkFlagRequired("data")

	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored trees",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, p, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			recs, err := svc.ListTrees(cmd.Context())
			if err != nil {
				return err
			}

			if p.json {
				type entry struct {
					Name        string    `json:"name"`
					Description string    `json:"description,omitempty"`
					Formula     string    `json:"formula"`
					Nodes       int       `json:"nodes"`
					UpdatedAt   time.Time `json:"updated_at"`
				}
				out := make([]entry, len(recs))
				for i, r := range recs {
					out[i] = entry{r.Name, r.Description, r.Formula, len(r.Snapshot.Nodes), r.UpdatedAt}
				}
				return p.JSON(out)
			}

			rows := make([][]string, len(recs))
			for i, r := range recs {
				rows[i] = []string{r.Name, r.Formula, strconv.Itoa(len(r.Snapshot.Nodes)), r.UpdatedAt.Format(time.RFC3339)}
			}
			p.Table([]string{"name", "formula", "nodes", "updated"}, rows)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, p, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.DeleteTree(cmd.Context(), args[0]); err != nil {
				return err
			}
			if p.json {
				return p.JSON(map[string]string{"deleted": args[0]})
			}
			p.Field("deleted", args[0])
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show journaled tree events",
		Long: `Show events recorded in the bus journal. Requires bus.journal to be
configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")

			svc, p, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			jb, ok := svc.Bus().(*bus.JournaledBus)
			if !ok {
				return errors.ValidationError("no bus journal configured")
			}

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			entries, err := jb.Journal().Entries(from, limit)
			if err != nil {
				return err
			}

			if p.json {
				return p.JSON(entries)
			}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{e.Timestamp.Format(time.RFC3339), e.Topic, e.Event.CorrelationID, e.Event.ID}
			}
			p.Table([]string{"time", "topic", "run", "id"}, rows)
			return nil
		},
	}

	cmd.Flags().Duration("since", 0, "only events newer than this (e.g. 24h)")
	cmd.Flags().Int("limit", 100, "maximum events to show (0 = all)")

	return cmd
}
