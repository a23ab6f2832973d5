package graphiql

const legacyClientScripts = `
  <script src="https://unpkg.com/subscriptions-transport-ws@0.9.19/browser/client.js"></script>
  <script src="https://unpkg.com/graphiql-subscriptions-fetcher@0.0.2/browser/client.js"></script>`

const modernClientScripts = `
  <script src="https://unpkg.com/graphql-ws@5.11.2/umd/graphql-ws.min.js"></script>
  <script src="https://unpkg.com/subscriptions-transport-ws@0.9.19/browser/client.js"></script>`

const pageHTML = `<!--
The request to this GraphQL server provided the header "Accept: text/html"
and as a result has been presented GraphiQL - an in-browser IDE for
exploring GraphQL.
If you wish to receive JSON, provide the header "Accept: application/json" or
add "&raw" to the end of the URL within a browser.
-->
<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <title>GraphiQL</title>
  <meta name="robots" content="noindex" />
  <meta name="referrer" content="origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <style>
    body {
      margin: 0;
      overflow: hidden;
    }
    #graphiql {
      height: 100vh;
    }
  </style>
  <link href="https://unpkg.com/graphiql@1.4.7/graphiql.min.css" rel="stylesheet" />
  {{.ThemeLink}}
  <script src="https://unpkg.com/promise-polyfill@8.2.0/dist/polyfill.min.js"></script>
  <script src="https://unpkg.com/unfetch@4.2.0/dist/unfetch.umd.js"></script>
  <script src="https://unpkg.com/react@17.0.2/umd/react.production.min.js"></script>
  <script src="https://unpkg.com/react-dom@17.0.2/umd/react-dom.production.min.js"></script>
  <script src="https://unpkg.com/graphiql@1.4.7/graphiql.min.js"></script>
  {{.SubscriptionScripts}}
</head>
<body>
  <div id="graphiql">Loading...</div>
  <script>
    var parameters = {};
    window.location.search.substr(1).split('&').forEach(function (entry) {
      var eq = entry.indexOf('=');
      if (eq >= 0) {
        parameters[decodeURIComponent(entry.slice(0, eq))] =
          decodeURIComponent(entry.slice(eq + 1));
      }
    });

    function locationQuery(params) {
      return '?' + Object.keys(params).filter(function (key) {
        return Boolean(params[key]);
      }).map(function (key) {
        return encodeURIComponent(key) + '=' +
          encodeURIComponent(params[key]);
      }).join('&');
    }

    var graphqlParamNames = {
      query: true,
      variables: true,
      operationName: true
    };
    var otherParams = {};
    for (var k in parameters) {
      if (parameters.hasOwnProperty(k) && graphqlParamNames[k] !== true) {
        otherParams[k] = parameters[k];
      }
    }
    var fetchURL = locationQuery(otherParams);

    function graphQLFetcher(graphQLParams, opts) {
      return fetch(fetchURL, {
        method: 'post',
        headers: Object.assign(
          {
            'Accept': 'application/json',
            'Content-Type': 'application/json'
          },
          opts && opts.headers,
        ),
        body: JSON.stringify(graphQLParams),
        credentials: 'include',
      }).then(function (response) {
        return response.json();
      });
    }

    function makeFetcher() {
{{- if .HasSubscriptions}}
      var url = window.location.href;
  {{- if .ModernClient}}
      var client = window.graphqlWs.createClient({url: {{.SubscriptionEndpoint}}});
      return window.GraphiQL.createFetcher({url: url, wsClient: client});
  {{- else}}
      var clientClass = window.SubscriptionsTransportWs.SubscriptionClient;
      var client = new clientClass({{.SubscriptionEndpoint}}, {
        reconnect: true
      });
      return window.GraphiQL.createFetcher({url: url, legacyClient: client});
  {{- end}}
{{- else}}
      return graphQLFetcher;
{{- end}}
    }

    function onEditQuery(newQuery) {
      parameters.query = newQuery;
      updateURL();
    }

    function onEditVariables(newVariables) {
      parameters.variables = newVariables;
      updateURL();
    }

    function onEditOperationName(newOperationName) {
      parameters.operationName = newOperationName;
      updateURL();
    }

    function updateURL() {
      history.replaceState(null, null, locationQuery(parameters));
    }

    ReactDOM.render(
      React.createElement(GraphiQL, {
        fetcher: makeFetcher(),
        onEditQuery: onEditQuery,
        onEditVariables: onEditVariables,
        onEditOperationName: onEditOperationName,
        editorTheme: {{.EditorTheme}},
        query: {{.Query}},
        response: {{.Response}},
        variables: {{.Variables}},
        operationName: {{.OperationName}},
        defaultQuery: {{.DefaultQuery}},
        headerEditorEnabled: {{.HeaderEditorEnabled}},
        shouldPersistHeaders: {{.ShouldPersistHeaders}}
      }),
      document.getElementById('graphiql')
    );
  </script>
</body>
</html>`
