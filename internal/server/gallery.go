package server

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/gstdots/internal/artifact"
	"github.com/conneroisu/gstdots/internal/registry"
)

// GraphView is one gallery entry as shown to viewers.
type GraphView struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Title string `json:"title"`
	Image string `json:"image"`
	Page  string `json:"page"`
}

var titleCaser = cases.Title(language.English)

// DisplayTitle turns a graph file stem into a readable heading.
// GStreamer stems look like "0.00.01.234567890-pipeline0.PAUSED_PLAYING".
func DisplayTitle(stem string) string {
	if i := strings.IndexByte(stem, '-'); i > 0 && strings.Trim(stem[:i], "0123456789.") == "" {
		stem = stem[i+1:]
	}
	stem = strings.NewReplacer("_", " ", "-", " ", ".", " · ").Replace(stem)
	return titleCaser.String(strings.TrimSpace(stem))
}

func newGraphView(e registry.Entry, layout artifact.Layout) GraphView {
	name := path.Base(e.Path)
	return GraphView{
		Path:  e.Path,
		Name:  name,
		Title: DisplayTitle(artifact.Stem(name)),
		Image: ArtifactsPrefix + escapePath(layout.ImageForPage(e.Path)),
		Page:  ArtifactsPrefix + escapePath(e.Path),
	}
}

// escapePath escapes each segment of a slash-separated relative path.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// Gallery renders the whole page around the initial snapshot. The embedded
// script keeps it in sync: each refresh signal triggers a re-fetch of
// /api/graphs, and a reconnect does the same.
func Gallery(title string, graphs []GraphView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		b.WriteString(`<title>`)
		b.WriteString(templ.EscapeString(title))
		b.WriteString(`</title><style>`)
		b.WriteString(galleryCSS)
		b.WriteString(`</style></head><body><header><h1>`)
		b.WriteString(templ.EscapeString(title))
		b.WriteString(`</h1><span id="status" class="status">connecting</span></header>`)
		b.WriteString(`<p id="empty" class="empty"`)
		if len(graphs) > 0 {
			b.WriteString(` hidden`)
		}
		b.WriteString(`>No graphs yet. Waiting for pipeline dumps.</p><ul id="graphs" class="graphs">`)
		for _, g := range graphs {
			writeCard(&b, g)
		}
		b.WriteString(`</ul><script>`)
		b.WriteString(galleryScript)
		b.WriteString(`</script></body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeCard(b *strings.Builder, g GraphView) {
	b.WriteString(`<li class="graph" data-path="`)
	b.WriteString(templ.EscapeString(g.Path))
	b.WriteString(`"><a href="`)
	b.WriteString(templ.EscapeString(g.Page))
	b.WriteString(`"><img loading="lazy" src="`)
	b.WriteString(templ.EscapeString(g.Image))
	b.WriteString(`" alt="`)
	b.WriteString(templ.EscapeString(g.Title))
	b.WriteString(`"><span class="title">`)
	b.WriteString(templ.EscapeString(g.Title))
	b.WriteString(`</span><span class="name">`)
	b.WriteString(templ.EscapeString(g.Name))
	b.WriteString(`</span></a></li>`)
}

const galleryCSS = `
body { font-family: system-ui, -apple-system, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; }
header { display: flex; align-items: baseline; gap: 1em; border-bottom: 2px solid #007acc; }
h1 { color: #333; margin: 0 0 10px; }
.status { font-size: 12px; color: #666; }
.status.live { color: #2a7d2a; }
.empty { color: #666; }
.graphs { list-style: none; padding: 0; display: grid; grid-template-columns: repeat(auto-fill, minmax(320px, 1fr)); gap: 20px; }
.graph a { display: flex; flex-direction: column; border: 1px solid #ddd; border-radius: 6px; padding: 12px; background: white; color: inherit; text-decoration: none; }
.graph img { width: 100%; height: 220px; object-fit: contain; background: #fafafa; }
.graph .title { font-weight: bold; color: #007acc; margin-top: 8px; }
.graph .name { font-size: 12px; color: #666; word-break: break-all; }
`

const galleryScript = `
(function () {
  var list = document.getElementById("graphs");
  var empty = document.getElementById("empty");
  var status = document.getElementById("status");

  function card(g) {
    var li = document.createElement("li");
    li.className = "graph";
    li.dataset.path = g.path;
    var a = document.createElement("a");
    a.href = g.page;
    var img = document.createElement("img");
    img.loading = "lazy";
    img.src = g.image + "?t=" + Date.now();
    img.alt = g.title;
    var title = document.createElement("span");
    title.className = "title";
    title.textContent = g.title;
    var name = document.createElement("span");
    name.className = "name";
    name.textContent = g.name;
    a.append(img, title, name);
    li.append(a);
    return li;
  }

  function refresh() {
    fetch("/api/graphs", { cache: "no-store" })
      .then(function (r) { return r.json(); })
      .then(function (body) {
        var graphs = body.graphs || [];
        list.replaceChildren.apply(list, graphs.map(card));
        empty.hidden = graphs.length > 0;
      })
      .catch(function () {});
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function () {
      status.textContent = "live";
      status.classList.add("live");
      refresh();
    };
    ws.onmessage = function (ev) {
      try {
        if (JSON.parse(ev.data).type === "refresh") refresh();
      } catch (e) {}
    };
    ws.onclose = function () {
      status.textContent = "reconnecting";
      status.classList.remove("live");
      setTimeout(connect, 1000);
    };
  }

  connect();
})();
`
