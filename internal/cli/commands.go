package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/colthorp/sol-cli-go/internal/browse"
	"github.com/colthorp/sol-cli-go/internal/catalog"
	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/logging"
	"github.com/colthorp/sol-cli-go/internal/output"
	"github.com/colthorp/sol-cli-go/internal/report"
	"github.com/colthorp/sol-cli-go/internal/server"
	"github.com/colthorp/sol-cli-go/internal/settings"
)

func init() {
	// Add all subcommands
	rootCmd.AddCommand(imagesCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)

	imagesCmd.AddCommand(imagesListCmd, imagesPrefetchCmd, imagesGetCmd, imagesSetsCmd)
	for _, kind := range report.Kinds() {
		reportsCmd.AddCommand(createReportCmd(kind))
	}

	for _, cmd := range []*cobra.Command{imagesListCmd, imagesPrefetchCmd, browseCmd} {
		addSelectionFlags(cmd)
	}

	// List command flags
	imagesListCmd.Flags().Int("days", 1, "Number of days to list, counting back from the given day")

	// Prefetch command flags
	imagesPrefetchCmd.Flags().IntP("parallel", "p", 0, "Concurrent downloads per pass (default from config)")

	// Get command flags
	imagesGetCmd.Flags().StringP("out", "o", ".", "Directory to save the image in")
	imagesGetCmd.Flags().Bool("check", false, "Decode the image before saving")

	// Browse command flags
	browseCmd.Flags().Int("older", 0, "Number of steps to walk back from the newest image")
	browseCmd.Flags().StringP("out", "o", ".", "Directory to save the images in")

	// Serve command flags
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	serveCmd.Flags().Duration("watch", 5*time.Second, "How often to check the config file for selection changes")
}

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List, prefetch and fetch SDO images",
}

var imagesListCmd = &cobra.Command{
	Use:   "list [day_spec]",
	Short: "List images for a day (e.g. today, d-1, 2022-09-09)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  handleImagesList,
}

var imagesPrefetchCmd = &cobra.Command{
	Use:   "prefetch [day_spec]",
	Short: "Download every image for a day that is not cached yet",
	Args:  cobra.MaximumNArgs(1),
	RunE:  handleImagesPrefetch,
}

var imagesGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Fetch one image by filename",
	Args:  cobra.ExactArgs(1),
	RunE:  handleImagesGet,
}

var imagesSetsCmd = &cobra.Command{
	Use:   "sets",
	Short: "List the known image sets and resolutions",
	RunE:  handleImagesSets,
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Show SWPC space-weather reports",
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Save the newest image, then walk back through older ones",
	RunE:  handleBrowse,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the image and report caches over HTTP",
	RunE:  handleServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI integration",
	RunE:  handleMCP,
}

func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("set", "", "Image set, e.g. 0171 or HMIB (default from config)")
	cmd.Flags().String("res", "", "Resolution, e.g. 1024 (default from config)")
	cmd.Flags().Bool("pfss", false, "PFSS field-line overlay (default from config)")
}

// selectionFrom applies the selection flags over base.
func selectionFrom(cmd *cobra.Command, base catalog.Selection) (catalog.Selection, error) {
	sel := base
	if v, _ := cmd.Flags().GetString("set"); v != "" {
		set, err := catalog.ParseImageSet(v)
		if err != nil {
			return sel, err
		}
		sel.ImageSet = set
	}
	if v, _ := cmd.Flags().GetString("res"); v != "" {
		res, err := catalog.ParseResolution(v)
		if err != nil {
			return sel, err
		}
		sel.Resolution = res
	}
	if cmd.Flags().Changed("pfss") {
		sel.PFSS, _ = cmd.Flags().GetBool("pfss")
	}
	return sel, sel.Validate()
}

func daySpec(args []string) (time.Time, error) {
	spec := ""
	if len(args) > 0 {
		spec = args[0]
	}
	return core.ParseDaySpec(spec, time.Now())
}

func storedSet(s interface{ Keys() ([]string, error) }) map[string]bool {
	keys, err := s.Keys()
	if err != nil {
		logging.Logger.Warn("unable to enumerate store", zap.Error(err))
	}
	stored := make(map[string]bool, len(keys))
	for _, k := range keys {
		stored[k] = true
	}
	return stored
}

func imageRows(a *app, images []catalog.Image) []output.ImageRow {
	if len(images) == 0 {
		return []output.ImageRow{}
	}
	stored := storedSet(a.images.StoreFor(images[0].Day))
	rows := make([]output.ImageRow, 0, len(images))
	for _, img := range images {
		rows = append(rows, output.ImageRow{
			Image:  img,
			State:  a.images.State(img.Key).String(),
			Stored: stored[img.Key],
		})
	}
	return rows
}

func handleImagesList(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days")
	if days < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	day, err := daySpec(args)
	if err != nil {
		return err
	}
	sel, err := selectionFrom(cmd, a.cfg.Selection)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	printer := output.Stdout(raw)

	if printer.Raw() && days > 1 {
		// Stream rows as each day's listing arrives
		rowsCh := make(chan output.ImageRow)
		errCh := make(chan error, 1)
		go func() {
			defer close(rowsCh)
			for i := 0; i < days; i++ {
				images, err := a.images.ListImages(ctx, day.AddDate(0, 0, -i), sel)
				if err != nil {
					errCh <- err
					return
				}
				for _, row := range imageRows(a, images) {
					rowsCh <- row
				}
			}
		}()
		output.StreamJSON(os.Stdout, rowsCh)
		select {
		case err := <-errCh:
			return err
		default:
			return nil
		}
	}

	for i := 0; i < days; i++ {
		d := day.AddDate(0, 0, -i)
		core.ProgressPrint(fmt.Sprintf("Listing %s images for %s…", sel, core.FormatDate(d)), quiet)
		images, err := a.images.ListImages(ctx, d, sel)
		if err != nil {
			return err
		}
		printer.Images(sel, d, imageRows(a, images))
	}
	return nil
}

func handleImagesPrefetch(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	if parallel, _ := cmd.Flags().GetInt("parallel"); parallel > 0 {
		a.cfg.Prefetch.Parallel = parallel
		if a, err = newApp(a.cfg, nil); err != nil {
			return err
		}
	}
	day, err := daySpec(args)
	if err != nil {
		return err
	}
	sel, err := selectionFrom(cmd, a.cfg.Selection)
	if err != nil {
		return err
	}

	core.ProgressPrint(fmt.Sprintf("Prefetching %s images for %s…", sel, core.FormatDate(day)), quiet)
	rep, err := a.images.Prefetch(cmd.Context(), day, sel)
	if err != nil {
		return err
	}
	output.Stdout(raw).Prefetch(rep)
	return nil
}

func handleImagesGet(cmd *cobra.Command, args []string) error {
	outDir, _ := cmd.Flags().GetString("out")
	check, _ := cmd.Flags().GetBool("check")

	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	img, err := a.images.Find(ctx, args[0])
	if err != nil {
		return err
	}
	if check {
		if _, err := a.images.Image(ctx, img); err != nil {
			return err
		}
	}
	data, _, err := a.images.Bytes(ctx, img)
	if err != nil {
		return err
	}
	path, err := save(outDir, img.Key, data)
	if err != nil {
		return err
	}
	output.Stdout(raw).Saved(path, len(data))
	return nil
}

func handleImagesSets(cmd *cobra.Command, args []string) error {
	type setInfo struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	sets := make([]setInfo, 0)
	for _, s := range catalog.ImageSets() {
		sets = append(sets, setInfo{Code: string(s), Name: s.Name()})
	}
	printer := output.Stdout(raw)
	if printer.Raw() {
		printer.PrintJSON(map[string]interface{}{"sets": sets, "resolutions": catalog.Resolutions()})
		return nil
	}
	for _, s := range sets {
		fmt.Printf("%-12s %s\n", s.Code, s.Name)
	}
	fmt.Printf("\nResolutions: %v\n", catalog.Resolutions())
	return nil
}

func createReportCmd(kind report.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   kind.String(),
		Short: fmt.Sprintf("Show the current %s report", kind),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handleReport(cmd, kind)
		},
	}
}

func handleReport(cmd *cobra.Command, kind report.Kind) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	core.ProgressPrint(fmt.Sprintf("Checking %s…", a.reports.URL(kind)), quiet)

	printer := output.Stdout(raw)
	switch kind {
	case report.ForecastKind:
		f, err := a.reports.Forecast(cmd.Context())
		if err != nil {
			return err
		}
		printer.Forecast(f)
	case report.AlertKind:
		alert, err := a.reports.Alert(cmd.Context())
		if err != nil {
			return err
		}
		printer.Alert(alert)
	}
	return nil
}

func handleBrowse(cmd *cobra.Command, args []string) error {
	older, _ := cmd.Flags().GetInt("older")
	outDir, _ := cmd.Flags().GetString("out")

	a, err := loadApp()
	if err != nil {
		return err
	}
	sel, err := selectionFrom(cmd, a.cfg.Selection)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	nav := browse.New(a.images, settings.Static{Selection: sel})
	defer nav.Wait()

	printer := output.Stdout(raw)
	show := func(frame browse.Frame) error {
		data, _, err := a.images.Bytes(ctx, frame.Meta)
		if err != nil {
			return err
		}
		path, err := save(outDir, frame.Meta.Key, data)
		if err != nil {
			return err
		}
		printer.Frame(frame.Meta, frame.Index, frame.Total, path)
		return nil
	}

	frame, err := nav.Latest(ctx)
	if err != nil {
		return err
	}
	if err := show(frame); err != nil {
		return err
	}
	for i := 0; i < older; i++ {
		frame, err := nav.Older(ctx)
		if err != nil {
			return err
		}
		if err := show(frame); err != nil {
			return err
		}
	}
	return nil
}

func handleServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	watch, _ := cmd.Flags().GetDuration("watch")

	a, err := loadApp()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	provider, err := settings.NewFileProvider(configPath, a.cfg.Selection)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if watch > 0 {
		go provider.Watch(ctx, watch)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(server.LoggerMiddleware())
	e.Use(server.RecoverMiddleware())
	srv := server.New(e, a.images, a.reports, provider, a.registry.Handler())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logging.Logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func handleMCP(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	return newMCPServer(a, os.Stdin, os.Stdout).run(cmd.Context())
}

// save writes data to dir/name atomically and returns the path.
func save(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}
