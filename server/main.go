package main

import (
	"context"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/meikuraledutech/execgraph"
	"github.com/meikuraledutech/execgraph/layout"
	"github.com/meikuraledutech/execgraph/postgres"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer pool.Close()

	var store execgraph.Store = postgres.New(pool)

	app := fiber.New()

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ── Schema ────────────────────────────────────────────────────────
	app.Post("/schema", func(c fiber.Ctx) error {
		if err := store.CreateSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema created"})
	})

	app.Delete("/schema", func(c fiber.Ctx) error {
		if err := store.DropSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema dropped"})
	})

	// ── Runs ──────────────────────────────────────────────────────────
	app.Get("/runs", func(c fiber.Ctx) error {
		runs, err := store.ListRuns(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(runs)
	})

	app.Post("/runs/:id/snapshot", func(c fiber.Ctx) error {
		var snap execgraph.Snapshot
		if err := c.Bind().JSON(&snap); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		snap.RunID = c.Params("id")
		saved, err := store.SaveSnapshot(c.Context(), &snap)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(saved)
	})

	app.Get("/runs/:id/snapshot", func(c fiber.Ctx) error {
		snap, err := store.GetSnapshot(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		if snap == nil {
			return c.Status(404).JSON(fiber.Map{"error": "run not found"})
		}
		return c.JSON(snap)
	})

	app.Get("/runs/:id/graph", func(c fiber.Ctx) error {
		snap, err := store.GetSnapshot(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		if snap == nil {
			return c.Status(404).JSON(fiber.Map{"error": "run not found"})
		}
		g := layout.Compute(snap.Nodes, snap.Edges, layout.Options{
			LayerSpacing: queryFloat(c, "layer_spacing"),
			NodeSpacing:  queryFloat(c, "node_spacing"),
		})
		return c.JSON(g)
	})

	app.Delete("/runs/:id", func(c fiber.Ctx) error {
		if err := store.DeleteRun(c.Context(), c.Params("id")); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":3000"
	}
	log.Info().Str("addr", addr).Msg("execgraph server listening")
	log.Fatal().Err(app.Listen(addr)).Msg("server stopped")
}

// queryFloat reads an optional numeric query parameter; 0 means "use default".
func queryFloat(c fiber.Ctx, key string) float64 {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
