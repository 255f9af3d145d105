package cmds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/snapdesk/pkg/config"
	"github.com/go-go-golems/snapdesk/pkg/workbench"
)

const queueSlug = "snapdesk-queue"

type QueueSettings struct {
	Recommendations string `glazed:"recommendations"`
	Save            bool   `glazed:"save"`
}

func newQueueSection() (schema.Section, error) {
	return schema.NewSection(
		queueSlug,
		"PO recommendation queue",
		schema.WithFields(
			fields.New("recommendations", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Recommendations YAML/JSON file (overrides workbench.recommendations_file)")),
			fields.New("save", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Write status changes back to the recommendations file")),
		),
	)
}

type loadedQueue struct {
	cfg   *config.Config
	queue *workbench.Queue
	path  string
	save  bool
}

func loadQueue(parsed *values.Values) (*loadedQueue, error) {
	cfg, err := LoadConfig(parsed)
	if err != nil {
		return nil, err
	}
	qs := &QueueSettings{}
	if err := parsed.DecodeSectionInto(queueSlug, qs); err != nil {
		return nil, errors.Wrap(err, "init queue settings")
	}
	if qs.Recommendations != "" {
		cfg.Workbench.RecommendationsFile = qs.Recommendations
	}
	if cfg.Workbench.RecommendationsFile == "" {
		return nil, errors.New("no recommendations file, pass --recommendations or set SNAPDESK_RECOMMENDATIONS")
	}
	q, err := openQueue(cfg.Workbench)
	if err != nil {
		return nil, err
	}
	return &loadedQueue{cfg: cfg, queue: q, path: cfg.Workbench.RecommendationsFile, save: qs.Save}, nil
}

// persist writes the queue back when --save was given.
func (l *loadedQueue) persist() error {
	if !l.save {
		return nil
	}
	out := struct {
		Recommendations []workbench.Recommendation `yaml:"recommendations"`
	}{Recommendations: l.queue.List(workbench.Filter{})}
	b, err := yaml.Marshal(out)
	if err != nil {
		return errors.Wrap(err, "encode recommendations")
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrap(err, "write recommendations")
	}
	return errors.Wrap(os.Rename(tmp, l.path), "replace recommendations")
}

func filterFlags() []cmds.CommandDescriptionOption {
	return []cmds.CommandDescriptionOption{
		cmds.WithFlags(
			fields.New("location", fields.TypeStringList, fields.WithHelp("Only these locations")),
			fields.New("supplier", fields.TypeStringList, fields.WithHelp("Only these suppliers")),
			fields.New("window-days", fields.TypeInteger, fields.WithDefault(0), fields.WithHelp("Only shortages within this many days (0 = all)")),
		),
	}
}

type FilterSettings struct {
	Locations  []string `glazed:"location"`
	Suppliers  []string `glazed:"supplier"`
	WindowDays int      `glazed:"window-days"`
}

func (f FilterSettings) filter() workbench.Filter {
	return workbench.Filter{Locations: f.Locations, Suppliers: f.Suppliers, WindowDays: f.WindowDays, Now: time.Now()}
}

type WorkbenchListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*WorkbenchListCommand)(nil)

func NewWorkbenchListCommand() (*WorkbenchListCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	configSection, err := NewConfigSection()
	if err != nil {
		return nil, err
	}
	queueSection, err := newQueueSection()
	if err != nil {
		return nil, err
	}
	opts := append([]cmds.CommandDescriptionOption{
		cmds.WithShort("List PO recommendations"),
		cmds.WithSections(glazedSection, configSection, queueSection),
	}, filterFlags()...)
	return &WorkbenchListCommand{CommandDescription: cmds.NewCommandDescription("list", opts...)}, nil
}

func (c *WorkbenchListCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	fs := FilterSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, &fs); err != nil {
		return errors.Wrap(err, "init filter settings")
	}
	lq, err := loadQueue(parsed)
	if err != nil {
		return err
	}
	for _, r := range lq.queue.List(fs.filter()) {
		row := types.NewRow(
			types.MRP("rec_id", r.RecID),
			types.MRP("sku", r.SKU),
			types.MRP("location", r.Location),
			types.MRP("shortage_date", r.ShortageDate),
			types.MRP("recommended_qty", r.RecommendedQty),
			types.MRP("supplier", r.Supplier),
			types.MRP("reason", r.Reason),
			types.MRP("warnings", strings.Join(workbench.Warnings(r), "; ")),
			types.MRP("status", r.Display()),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type WorkbenchApproveCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = (*WorkbenchApproveCommand)(nil)

type ApproveSettings struct {
	RecID         string `glazed:"rec-id"`
	Justification string `glazed:"justification"`
	ERP           string `glazed:"erp"`
	Environment   string `glazed:"environment"`
	DryRun        bool   `glazed:"dry-run"`
	Yes           bool   `glazed:"yes"`
}

func NewWorkbenchApproveCommand() (*WorkbenchApproveCommand, error) {
	configSection, err := NewConfigSection()
	if err != nil {
		return nil, err
	}
	queueSection, err := newQueueSection()
	if err != nil {
		return nil, err
	}
	return &WorkbenchApproveCommand{
		CommandDescription: cmds.NewCommandDescription(
			"approve",
			cmds.WithShort("Approve a recommendation and create its PO"),
			cmds.WithArguments(
				fields.New("rec-id", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Recommendation id")),
			),
			cmds.WithFlags(
				fields.New("justification", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Buyer justification (generated when empty)")),
				fields.New("erp", fields.TypeChoice, fields.WithChoices("SAP", "NetSuite"), fields.WithDefault("SAP"), fields.WithHelp("Target ERP")),
				fields.New("environment", fields.TypeChoice, fields.WithChoices("Dev", "QA", "Prod"), fields.WithDefault("Dev"), fields.WithHelp("Target environment")),
				fields.New("dry-run", fields.TypeBool, fields.WithDefault(true), fields.WithHelp("Ask the pipeline for a dry run")),
				fields.New("yes", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Do not ask for confirmation")),
			),
			cmds.WithSections(configSection, queueSection),
		),
	}, nil
}

func (c *WorkbenchApproveCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ApproveSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init approve settings")
	}
	lq, err := loadQueue(parsed)
	if err != nil {
		return err
	}
	rec, err := lq.queue.Get(s.RecID)
	if err != nil {
		return err
	}
	for _, w := range workbench.Warnings(rec) {
		fmt.Println(w)
	}
	if !s.Yes {
		q := fmt.Sprintf("Create %s PO (%s) for %s: %d x %s from %s?", s.ERP, s.Environment, rec.RecID, rec.RecommendedQty, rec.SKU, rec.Supplier)
		ok, err := confirm(q)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	updated, err := lq.queue.Approve(ctx, s.RecID, s.Justification, workbench.Settings{ERP: s.ERP, Environment: s.Environment, DryRun: s.DryRun})
	if perr := lq.persist(); perr != nil {
		return perr
	}
	if err != nil {
		fmt.Println("❌ Failed to create PO: " + err.Error())
		return err
	}
	fmt.Printf("✅ %s %s\n", updated.RecID, updated.Display())
	return nil
}

type WorkbenchRejectCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = (*WorkbenchRejectCommand)(nil)

type RejectSettings struct {
	RecID string `glazed:"rec-id"`
	Yes   bool   `glazed:"yes"`
}

func NewWorkbenchRejectCommand() (*WorkbenchRejectCommand, error) {
	configSection, err := NewConfigSection()
	if err != nil {
		return nil, err
	}
	queueSection, err := newQueueSection()
	if err != nil {
		return nil, err
	}
	return &WorkbenchRejectCommand{
		CommandDescription: cmds.NewCommandDescription(
			"reject",
			cmds.WithShort("Reject a recommendation"),
			cmds.WithArguments(
				fields.New("rec-id", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Recommendation id")),
			),
			cmds.WithFlags(
				fields.New("yes", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Do not ask for confirmation")),
			),
			cmds.WithSections(configSection, queueSection),
		),
	}, nil
}

func (c *WorkbenchRejectCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &RejectSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init reject settings")
	}
	lq, err := loadQueue(parsed)
	if err != nil {
		return err
	}
	if !s.Yes {
		ok, err := confirm(fmt.Sprintf("Reject %s?", s.RecID))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}
	updated, err := lq.queue.Reject(ctx, s.RecID)
	if err != nil {
		return err
	}
	if err := lq.persist(); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", updated.RecID, updated.Display())
	return nil
}

type WorkbenchExportCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = (*WorkbenchExportCommand)(nil)

type ExportSettings struct {
	Output string `glazed:"output"`
	Format string `glazed:"format"`
}

func NewWorkbenchExportCommand() (*WorkbenchExportCommand, error) {
	configSection, err := NewConfigSection()
	if err != nil {
		return nil, err
	}
	queueSection, err := newQueueSection()
	if err != nil {
		return nil, err
	}
	opts := append([]cmds.CommandDescriptionOption{
		cmds.WithShort("Export recommendations to CSV or XLSX"),
		cmds.WithFlags(
			fields.New("output", fields.TypeString, fields.WithDefault("po_recommendations.csv"), fields.WithHelp("Output file")),
			fields.New("format", fields.TypeChoice, fields.WithChoices("auto", "csv", "xlsx"), fields.WithDefault("auto"), fields.WithHelp("Output format (auto picks from the file extension)")),
		),
		cmds.WithSections(configSection, queueSection),
	}, filterFlags()...)
	return &WorkbenchExportCommand{CommandDescription: cmds.NewCommandDescription("export", opts...)}, nil
}

func (c *WorkbenchExportCommand) Run(_ context.Context, parsed *values.Values) error {
	s := &ExportSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init export settings")
	}
	fs := FilterSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, &fs); err != nil {
		return errors.Wrap(err, "init filter settings")
	}
	lq, err := loadQueue(parsed)
	if err != nil {
		return err
	}
	format := s.Format
	if format == "auto" {
		format = "csv"
		if strings.EqualFold(filepath.Ext(s.Output), ".xlsx") {
			format = "xlsx"
		}
	}

	f, err := os.Create(s.Output)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	recs := lq.queue.List(fs.filter())
	if format == "xlsx" {
		err = workbench.ExportXLSX(f, recs)
	} else {
		err = workbench.ExportCSV(f, recs)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d recommendations to %s\n", len(recs), s.Output)
	return nil
}

func confirm(query string) (bool, error) {
	ui := &input.UI{Writer: os.Stdout, Reader: os.Stdin}
	answer, err := ui.Ask(query+" [y/n]", &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "read confirmation")
	}
	return answer == "y" || answer == "Y", nil
}

// AddWorkbenchCommands mounts the workbench subcommands under root.
func AddWorkbenchCommands(root *cobra.Command) error {
	wb := &cobra.Command{
		Use:   "workbench",
		Short: "Review and act on PO recommendations",
	}
	list, err := NewWorkbenchListCommand()
	if err != nil {
		return err
	}
	approve, err := NewWorkbenchApproveCommand()
	if err != nil {
		return err
	}
	reject, err := NewWorkbenchRejectCommand()
	if err != nil {
		return err
	}
	export, err := NewWorkbenchExportCommand()
	if err != nil {
		return err
	}
	for _, c := range []cmds.Command{list, approve, reject, export} {
		cc, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(GetMiddlewares))
		if err != nil {
			return err
		}
		wb.AddCommand(cc)
	}
	root.AddCommand(wb)
	return nil
}
