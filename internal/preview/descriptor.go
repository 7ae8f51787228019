package preview

import (
	"fmt"
	"strings"

	"github.com/jkaninda/onyesha/internal/domain"
)

// RenderDescriptor produces the Dockerfile text for a runtime kind and its
// internal port. Pure: the same inputs always yield the same text.
func RenderDescriptor(kind domain.RuntimeKind, port int) string {
	switch kind {
	case domain.KindReact, domain.KindVue, domain.KindSvelte, domain.KindNext:
		return nodeDescriptor(port)
	case domain.KindFlask, domain.KindFastAPI, domain.KindDjango:
		return pythonDescriptor(port)
	default:
		return staticDescriptor(port)
	}
}

// DetectKind infers the runtime kind from a file snapshot. Dependency
// manifests are sniffed first; anything unrecognized falls back to a
// static site.
func DetectKind(files []domain.ProjectFile) domain.RuntimeKind {
	for _, f := range files {
		switch f.Path {
		case "package.json":
			switch {
			case strings.Contains(f.Content, `"next"`):
				return domain.KindNext
			case strings.Contains(f.Content, `"react"`):
				return domain.KindReact
			case strings.Contains(f.Content, `"vue"`):
				return domain.KindVue
			case strings.Contains(f.Content, `"svelte"`):
				return domain.KindSvelte
			}
		case "requirements.txt":
			content := strings.ToLower(f.Content)
			switch {
			case strings.Contains(content, "django"):
				return domain.KindDjango
			case strings.Contains(content, "fastapi"):
				return domain.KindFastAPI
			case strings.Contains(content, "flask"):
				return domain.KindFlask
			}
		}
	}
	return domain.KindStatic
}

func nodeDescriptor(port int) string {
	return fmt.Sprintf(`FROM node:20-slim

RUN groupadd -r preview && useradd -r -g preview preview

RUN npm install -g serve@14 && npm cache clean --force

WORKDIR /app

COPY --chown=preview:preview . .

RUN if [ -f package.json ]; then \
      npm install --production 2>/dev/null || true; \
    fi

RUN if [ -f package.json ] && grep -q '"build"' package.json; then \
      npm run build 2>/dev/null || true; \
    fi

USER preview

EXPOSE %[1]d

CMD if [ -d "dist" ]; then \
      serve -s dist -l %[1]d; \
    elif [ -d "build" ]; then \
      serve -s build -l %[1]d; \
    elif [ -d "public" ]; then \
      serve -s public -l %[1]d; \
    else \
      serve -s . -l %[1]d; \
    fi
`, port)
}

func pythonDescriptor(port int) string {
	return fmt.Sprintf(`FROM python:3.12-slim

RUN groupadd -r preview && useradd -r -g preview preview

WORKDIR /app

COPY --chown=preview:preview . .

RUN if [ -f requirements.txt ]; then \
      pip install --no-cache-dir -r requirements.txt 2>/dev/null || true; \
    fi

USER preview

EXPOSE %[1]d

CMD if [ -f "app.py" ]; then \
      python app.py; \
    elif [ -f "main.py" ]; then \
      python main.py; \
    elif [ -f "manage.py" ]; then \
      python manage.py runserver 0.0.0.0:%[1]d; \
    else \
      python -m http.server %[1]d; \
    fi
`, port)
}

func staticDescriptor(port int) string {
	return fmt.Sprintf(`FROM nginx:alpine

RUN printf 'server {\n\
    listen %[1]d;\n\
    server_name localhost;\n\
    root /usr/share/nginx/html;\n\
    index index.html;\n\
    location / {\n\
        try_files $uri $uri/ /index.html;\n\
    }\n\
    gzip on;\n\
    gzip_types text/plain text/css application/json application/javascript text/xml application/xml;\n\
}\n' > /etc/nginx/conf.d/default.conf

COPY . /usr/share/nginx/html/

EXPOSE %[1]d
`, port)
}
